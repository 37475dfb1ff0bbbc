package scan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/alert"
	"github.com/mintra/marketscan/chain"
	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/metrics"
)

// Backoff is the restart policy applied between supervised attempts
type Backoff struct {
	Delay time.Duration
}

// DefaultBackoff returns the standard fixed restart delay
func DefaultBackoff() Backoff {
	return Backoff{Delay: constants.SupervisorBackoff}
}

// SupervisorConfig wires fault handling around one supervised task
type SupervisorConfig struct {
	// Name identifies the task in logs and alerts
	Name    string
	Network string

	Backoff  Backoff
	Faults   *FaultCounter
	Notifier alert.Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Supervise runs task until the context is cancelled, restarting it after
// the backoff delay whenever it fails or panics. The task's own loop is
// itself infinite, so in steady state this never re-fires; it exists to
// survive unexpected faults.
//
// Alerts are deduplicated through the fault counter: one alert per fault
// episode per network, and benign faults never alert.
func Supervise(ctx context.Context, cfg SupervisorConfig, task func(ctx context.Context) error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("task", cfg.Name), zap.String("network", cfg.Network))
	if cfg.Backoff.Delay <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	for {
		err := runRecovering(ctx, task)
		if ctx.Err() != nil {
			return
		}

		kind := chain.Classify(err)
		logger.Error("supervised task faulted",
			zap.String("kind", kind.String()),
			zap.Error(err))

		if m := cfg.Metrics; m != nil {
			m.WorkerRestartsTotal.WithLabelValues(cfg.Network, kind.String()).Inc()
		}

		if kind != chain.KindBenign && cfg.Faults != nil {
			shouldAlert, ferr := cfg.Faults.Record(ctx, cfg.Network, kind.String())
			if ferr != nil {
				logger.Warn("fault counter unavailable", zap.Error(ferr))
			} else if shouldAlert && cfg.Notifier != nil {
				cfg.Notifier.Notify(ctx, fmt.Sprintf(
					"scanner %s on %s keeps faulting (%s): %v",
					cfg.Name, cfg.Network, kind, err))
				if m := cfg.Metrics; m != nil {
					m.AlertsSentTotal.Inc()
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Backoff.Delay):
		}
	}
}

// runRecovering converts a task panic into an error so the supervisor can
// treat it like any other fault
func runRecovering(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
