package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamConn is the slice of the stream API the bus relies on. Tests swap in
// an in-memory implementation.
type streamConn interface {
	// EnsureGroup creates the stream and consumer group if missing
	EnsureGroup(ctx context.Context, stream, group string) error

	// Pending summarizes the group's delivered-but-unacknowledged entries
	Pending(ctx context.Context, stream, group string) (*redis.XPending, error)

	// Range reads entries between two ids, inclusive, oldest first
	Range(ctx context.Context, stream, start, stop string) ([]redis.XMessage, error)

	// ReadGroup delivers up to count new entries to the named consumer
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error)

	// Ack acknowledges processed entries
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Add appends an entry to a stream
	Add(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// redisConn binds streamConn to a Redis client
type redisConn struct {
	client *redis.Client
}

var _ streamConn = (*redisConn)(nil)

func (c *redisConn) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (c *redisConn) Pending(ctx context.Context, stream, group string) (*redis.XPending, error) {
	p, err := c.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending for %s: %w", stream, err)
	}
	return p, nil
}

func (c *redisConn) Range(ctx context.Context, stream, start, stop string) ([]redis.XMessage, error) {
	msgs, err := c.client.XRange(ctx, stream, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range %s: %w", stream, err)
	}
	return msgs, nil
}

func (c *redisConn) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read group on %s: %w", stream, err)
	}
	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *redisConn) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := c.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack on %s: %w", stream, err)
	}
	return nil
}

func (c *redisConn) Add(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add to %s: %w", stream, err)
	}
	return id, nil
}
