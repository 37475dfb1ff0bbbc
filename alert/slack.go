package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SlackConfig holds Slack webhook settings
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	// RateLimitPerMinute caps outgoing messages; 0 uses a sane default
	RateLimitPerMinute int
}

// SlackNotifier posts notifications to a Slack incoming webhook
type SlackNotifier struct {
	config  *SlackConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Notifier = (*SlackNotifier)(nil)

// NewSlackNotifier creates a Slack notifier
func NewSlackNotifier(config *SlackConfig, logger *zap.Logger) (*SlackNotifier, error) {
	if config == nil || config.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perMinute := config.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	return &SlackNotifier{
		config:  config,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
		logger:  logger.Named("slack"),
	}, nil
}

type slackMessage struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

// Notify posts the text to the webhook. Failures and rate-limit drops are
// logged and swallowed.
func (n *SlackNotifier) Notify(ctx context.Context, text string) {
	if !n.limiter.Allow() {
		n.logger.Warn("alert dropped by rate limit", zap.String("text", text))
		return
	}

	payload, err := json.Marshal(slackMessage{
		Text:     text,
		Channel:  n.config.Channel,
		Username: n.config.Username,
	})
	if err != nil {
		n.logger.Error("failed to marshal alert", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Error("failed to create alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("failed to deliver alert", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.logger.Error("alert rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
	}
}
