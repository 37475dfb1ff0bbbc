package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Field names of the wire message
const (
	fieldData    = "data"
	fieldUserURL = "user_url"
)

// Producer appends messages to topic streams
type Producer struct {
	conn   streamConn
	logger *zap.Logger
}

// NewProducer creates a producer over a Redis client
func NewProducer(client *redis.Client, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{conn: &redisConn{client: client}, logger: logger}
}

// Publish JSON-encodes the payload and appends it to the topic's stream
func (p *Producer) Publish(ctx context.Context, topic string, payload interface{}, userURL string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}

	id, err := p.conn.Add(ctx, topic, map[string]interface{}{
		fieldData:    string(data),
		fieldUserURL: userURL,
	})
	if err != nil {
		return err
	}

	p.logger.Debug("message published",
		zap.String("topic", topic),
		zap.String("id", id))
	return nil
}
