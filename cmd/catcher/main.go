// Command catcher runs the event bus consumer: it drains the marketplace
// topics under the shared consumer group, recovering unacknowledged entries
// before reading new ones.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mintra/marketscan/bus"
	"github.com/mintra/marketscan/internal/config"
	"github.com/mintra/marketscan/internal/logger"
	"github.com/mintra/marketscan/metrics"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "catcher: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	h := &handlers{
		webhooks: &http.Client{Timeout: 10 * time.Second},
		logger:   logger.WithComponent(log, "catcher"),
	}

	registry := bus.NewRegistry()
	if err := registry.Register("new_collection", h.newCollection); err != nil {
		return err
	}
	if err := registry.Register("notifications", h.notification); err != nil {
		return err
	}
	if err := registry.Register("promotions", h.promotionStarted); err != nil {
		return err
	}

	consumer := bus.NewConsumer(client, registry, bus.ConsumerConfig{
		Group:   cfg.Bus.Group,
		Name:    cfg.Bus.Consumer,
		Sleep:   cfg.Bus.Sleep,
		Logger:  logger.WithComponent(log, "bus"),
		Metrics: metrics.New(""),
	})
	return consumer.Run(ctx)
}

type handlers struct {
	webhooks *http.Client
	logger   *zap.Logger
}

type newCollectionPayload struct {
	Name     string `json:"name"`
	Network  string `json:"network"`
	Standard string `json:"standard"`
}

// newCollection records an announced collection registration. The pending
// ledger row itself is created by the scanner process from its configuration;
// this side only validates and acknowledges the announcement.
func (h *handlers) newCollection(ctx context.Context, msg bus.Message) error {
	var p newCollectionPayload
	if err := json.Unmarshal([]byte(msg.Data), &p); err != nil {
		return fmt.Errorf("failed to decode new_collection payload: %w", err)
	}
	if p.Name == "" || p.Network == "" {
		return fmt.Errorf("new_collection payload missing name or network")
	}
	h.logger.Info("collection registration received",
		zap.String("name", p.Name),
		zap.String("network", p.Network),
		zap.String("standard", p.Standard))
	return nil
}

// notification marks a user notification as seen and forwards it to the
// caller's webhook when one was attached to the message
func (h *handlers) notification(ctx context.Context, msg bus.Message) error {
	h.logger.Info("notification received",
		zap.String("id", msg.ID),
		zap.Bool("has_webhook", msg.UserURL != ""))

	if msg.UserURL == "" {
		return nil
	}
	return h.forward(ctx, msg.UserURL, msg.Data)
}

type promotionPayload struct {
	PromotionID uint64 `json:"promotion_id"`
	Collection  string `json:"collection_address"`
	TokenID     string `json:"token_id"`
	Package     uint64 `json:"package"`
}

func (h *handlers) promotionStarted(ctx context.Context, msg bus.Message) error {
	var p promotionPayload
	if err := json.Unmarshal([]byte(msg.Data), &p); err != nil {
		return fmt.Errorf("failed to decode promotion payload: %w", err)
	}
	h.logger.Info("promotion started",
		zap.Uint64("promotion_id", p.PromotionID),
		zap.String("collection", p.Collection),
		zap.String("token_id", p.TokenID),
		zap.Uint64("package", p.Package))
	return nil
}

func (h *handlers) forward(ctx context.Context, url, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.webhooks.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
