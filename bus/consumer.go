package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/metrics"
)

// ConsumerConfig wires a consumer into the shared group
type ConsumerConfig struct {
	// Group is the shared consumer group; 0 value uses the default
	Group string

	// Name identifies this consumer within the group
	Name string

	// Sleep is the pause between full recovery+live passes
	Sleep time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Consumer drains registered topics under a shared consumer group. Each
// outer pass first re-dispatches the group's pending entries (delivered
// before a crash but never acknowledged), then block-reads new entries one
// at a time. Messages are acknowledged only after their handler succeeds,
// so nothing is lost, though redelivery is expected and handlers must be
// idempotent.
type Consumer struct {
	conn     streamConn
	registry *Registry
	cfg      ConsumerConfig
	logger   *zap.Logger
}

// NewConsumer creates a consumer over a Redis client
func NewConsumer(client *redis.Client, registry *Registry, cfg ConsumerConfig) *Consumer {
	return newConsumer(&redisConn{client: client}, registry, cfg)
}

func newConsumer(conn streamConn, registry *Registry, cfg ConsumerConfig) *Consumer {
	if cfg.Group == "" {
		cfg.Group = constants.DefaultConsumerGroup
	}
	if cfg.Name == "" {
		cfg.Name = constants.DefaultConsumerName
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = constants.DefaultBusSleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("group", cfg.Group), zap.String("consumer", cfg.Name)),
	}
}

// Run consumes until the context is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	for _, topic := range c.registry.Topics() {
		if err := c.conn.EnsureGroup(ctx, topic, c.cfg.Group); err != nil {
			return err
		}
	}
	c.logger.Info("bus consumer started", zap.Strings("topics", c.registry.Topics()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.recoveryPass(ctx)
		c.livePass(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Sleep):
		}
	}
}

// recoveryPass re-dispatches every still-pending entry, oldest first
func (c *Consumer) recoveryPass(ctx context.Context) {
	for _, topic := range c.registry.Topics() {
		pending, err := c.conn.Pending(ctx, topic, c.cfg.Group)
		if err != nil {
			c.logger.Warn("pending summary failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		if pending == nil || pending.Count == 0 {
			continue
		}

		msgs, err := c.conn.Range(ctx, topic, pending.Lower, pending.Higher)
		if err != nil {
			c.logger.Warn("pending range failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		c.logger.Info("recovering pending messages",
			zap.String("topic", topic),
			zap.Int("count", len(msgs)))

		for _, m := range msgs {
			c.dispatch(ctx, topic, m)
		}
	}
}

// livePass drains new entries per topic, one message at a time
func (c *Consumer) livePass(ctx context.Context) {
	for _, topic := range c.registry.Topics() {
		for {
			if ctx.Err() != nil {
				return
			}
			msgs, err := c.conn.ReadGroup(ctx, topic, c.cfg.Group, c.cfg.Name, 1, time.Second)
			if err != nil {
				c.logger.Warn("read failed", zap.String("topic", topic), zap.Error(err))
				break
			}
			if len(msgs) == 0 {
				break
			}
			for _, m := range msgs {
				c.dispatch(ctx, topic, m)
			}
		}
	}
}

// dispatch runs the topic's handler and acknowledges only on success.
// Handler panics are contained like any other failure.
func (c *Consumer) dispatch(ctx context.Context, topic string, raw redis.XMessage) {
	fn, ok := c.registry.Handler(topic)
	if !ok {
		c.logger.Error("no handler for topic", zap.String("topic", topic))
		return
	}

	msg := decodeMessage(topic, raw)
	if m := c.cfg.Metrics; m != nil {
		m.BusDeliveredTotal.WithLabelValues(topic).Inc()
	}

	if err := c.runHandler(ctx, fn, msg); err != nil {
		// Left pending; the next recovery pass retries it
		c.logger.Error("handler failed, message left pending",
			zap.String("topic", topic),
			zap.String("id", msg.ID),
			zap.Error(err))
		if m := c.cfg.Metrics; m != nil {
			m.BusFailedTotal.WithLabelValues(topic).Inc()
		}
		return
	}

	if err := c.conn.Ack(ctx, topic, c.cfg.Group, msg.ID); err != nil {
		c.logger.Warn("ack failed", zap.String("topic", topic), zap.String("id", msg.ID), zap.Error(err))
		return
	}
	if m := c.cfg.Metrics; m != nil {
		m.BusAckedTotal.WithLabelValues(topic).Inc()
	}
}

func (c *Consumer) runHandler(ctx context.Context, fn HandlerFunc, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, msg)
}

func decodeMessage(topic string, raw redis.XMessage) Message {
	msg := Message{ID: raw.ID, Topic: topic}
	if v, ok := raw.Values[fieldData].(string); ok {
		msg.Data = v
	}
	if v, ok := raw.Values[fieldUserURL].(string); ok {
		msg.UserURL = v
	}
	return msg
}
