package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintra/marketscan/kv"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

// superviseFailures runs a task that fails `failures` times, then cancels
func superviseFailures(t *testing.T, failures int, taskErr error, notifier *recordingNotifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, SupervisorConfig{
			Name:     "scanner",
			Network:  "polygon",
			Backoff:  Backoff{Delay: time.Millisecond},
			Faults:   NewFaultCounter(kv.NewMemoryStore()),
			Notifier: notifier,
		}, func(ctx context.Context) error {
			runs++
			if runs >= failures {
				cancel()
			}
			return taskErr
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	require.GreaterOrEqual(t, runs, failures)
}

func TestSupervisorAlertsOncePerEpisode(t *testing.T) {
	notifier := &recordingNotifier{}
	superviseFailures(t, 10, errors.New("connection reset by peer"), notifier)

	assert.Equal(t, 1, notifier.count(),
		"a persistent fault alerts exactly once, at the configured occurrence band")
}

func TestSupervisorNeverAlertsBenign(t *testing.T) {
	notifier := &recordingNotifier{}
	superviseFailures(t, 10, errors.New("filter not found"), notifier)

	assert.Equal(t, 0, notifier.count())
}

func TestSupervisorRecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, SupervisorConfig{
			Name:    "scanner",
			Network: "polygon",
			Backoff: Backoff{Delay: time.Millisecond},
		}, func(ctx context.Context) error {
			runs++
			if runs >= 3 {
				cancel()
			}
			panic("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.GreaterOrEqual(t, runs, 3, "the supervisor restarts after a panic")
}

func TestFaultCounterBand(t *testing.T) {
	f := NewFaultCounter(kv.NewMemoryStore())
	ctx := context.Background()

	var alerts []int
	for i := 1; i <= 10; i++ {
		should, err := f.Record(ctx, "polygon", "unknown")
		require.NoError(t, err)
		if should {
			alerts = append(alerts, i)
		}
	}
	assert.Equal(t, []int{5}, alerts, "only the fifth occurrence in a window alerts")
}
