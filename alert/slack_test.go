package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlackNotifierPostsWebhook(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(&SlackConfig{
		WebhookURL: srv.URL,
		Channel:    "#ops",
	}, zap.NewNop())
	require.NoError(t, err)

	n.Notify(context.Background(), "scanner fault on polygon")

	assert.Equal(t, "scanner fault on polygon", got.Text)
	assert.Equal(t, "#ops", got.Channel)
}

func TestSlackNotifierSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(&SlackConfig{WebhookURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	// Must not panic or block
	n.Notify(context.Background(), "boom")
}

func TestSlackNotifierRequiresWebhook(t *testing.T) {
	_, err := NewSlackNotifier(&SlackConfig{}, zap.NewNop())
	assert.Error(t, err)
}
