package scan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mintra/marketscan/chain"
	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/metrics"
	"github.com/mintra/marketscan/reconcile"
)

// WorkerConfig wires one scanner worker to its scope
type WorkerConfig struct {
	Scope    Scope
	Source   events.Source
	Registry *reconcile.Registry

	Checkpoints *CheckpointStore
	Heights     *HeightCache

	// Quota guards provider spend in import mode; ignored otherwise
	Quota      *ImportQuota
	QuotaLimit int64
	ImportMode bool

	// DeployBlock anchors the checkpoint fallback; 0 when unknown
	DeployBlock uint64

	// FinalityMargin is the number of blocks withheld from the chain head
	FinalityMargin uint64

	// BlockWindow is the widest span per query; 0 uses the default
	BlockWindow uint64

	// Sleep is the pause between poll iterations; 0 uses the default
	Sleep time.Duration

	// MarkSynced runs once when the worker first catches up to the chain
	// head, e.g. flipping an importing collection to committed
	MarkSynced func(ctx context.Context) error

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Worker polls one scanner scope: fetch, parse, apply, checkpoint. The
// query window shrinks under provider pressure and snaps back to the
// configured span on the first success.
type Worker struct {
	cfg    WorkerConfig
	logger *zap.Logger

	maxWindow uint64
	window    uint64
	halvings  uint

	synced        bool
	syncedPending bool
}

// NewWorker creates a worker for one scope
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Checkpoints == nil || cfg.Heights == nil {
		return nil, fmt.Errorf("checkpoint store and height cache are required")
	}
	if cfg.BlockWindow == 0 {
		cfg.BlockWindow = constants.DefaultBlockWindow
	}
	if cfg.FinalityMargin == 0 {
		cfg.FinalityMargin = constants.DefaultFinalityMargin
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = constants.DefaultScannerSleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("network", cfg.Scope.Network),
		zap.String("category", cfg.Scope.Category),
		zap.String("contract", cfg.Scope.Contract),
	)

	return &Worker{
		cfg:       cfg,
		logger:    logger,
		maxWindow: cfg.BlockWindow,
		window:    cfg.BlockWindow,
	}, nil
}

// Synced reports whether the worker has caught up to the chain head
func (w *Worker) Synced() bool {
	return w.synced
}

// Window returns the current adaptive query span
func (w *Worker) Window() uint64 {
	return w.window
}

// Run polls until the context is cancelled. Unclassified faults escape to
// the supervisor; the checkpoint is untouched, so the next run replays the
// in-flight window.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("scanner worker started",
		zap.Uint64("block_window", w.maxWindow),
		zap.Uint64("finality_margin", w.cfg.FinalityMargin))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.iterate(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Sleep):
		}
	}
}

func (w *Worker) iterate(ctx context.Context) error {
	if w.cfg.ImportMode && w.cfg.Quota != nil {
		exceeded, err := w.cfg.Quota.Exceeded(ctx, w.cfg.Scope.Network, w.cfg.QuotaLimit)
		if err != nil {
			w.logger.Warn("quota check unavailable", zap.Error(err))
			return nil
		}
		if exceeded {
			w.logger.Debug("import quota exhausted, skipping poll")
			return nil
		}
	}

	height, err := w.cfg.Heights.Height(ctx, w.cfg.Scope.Network, w.cfg.Source.Height)
	if err != nil {
		w.logger.Warn("chain height unavailable", zap.Error(err))
		return nil
	}
	from, err := w.cfg.Checkpoints.Next(ctx, w.cfg.Scope, w.cfg.DeployBlock, w.cfg.Source.Height)
	if err != nil {
		w.logger.Warn("checkpoint unavailable", zap.Error(err))
		return nil
	}

	if height <= w.cfg.FinalityMargin {
		return nil
	}
	target := height - w.cfg.FinalityMargin

	if target < from || target-from < w.cfg.FinalityMargin {
		// Caught up to the head; nothing final to scan yet
		return w.markSynced(ctx)
	}

	to := target
	if span := to - from + 1; span > w.window {
		to = from + w.window - 1
	}

	if w.cfg.ImportMode && w.cfg.Quota != nil {
		if _, err := w.cfg.Quota.Increment(ctx, w.cfg.Scope.Network); err != nil {
			w.logger.Warn("quota increment failed", zap.Error(err))
		}
	}

	records, err := w.cfg.Source.Logs(ctx, from, to)
	if err != nil {
		return w.handleFetchError(err, from, to)
	}
	w.resetWindow()

	for _, rec := range records {
		if err := w.cfg.Registry.Apply(ctx, rec); err != nil {
			return fmt.Errorf("failed to apply %s event: %w", rec.Category(), err)
		}
	}

	if err := w.cfg.Checkpoints.Advance(ctx, w.cfg.Scope, to); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	if m := w.cfg.Metrics; m != nil {
		m.WindowsScannedTotal.WithLabelValues(w.cfg.Scope.Network, w.cfg.Scope.Category).Inc()
		m.EventsAppliedTotal.WithLabelValues(w.cfg.Scope.Network, w.cfg.Scope.Category).Add(float64(len(records)))
		m.CheckpointBlock.WithLabelValues(w.cfg.Scope.Network, w.cfg.Scope.Category).Set(float64(to + 1))
	}

	if len(records) > 0 {
		w.logger.Info("window applied",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("events", len(records)))
	}
	return nil
}

// handleFetchError shrinks the window on provider pressure and swallows
// known-benign failures; anything else escapes to the supervisor
func (w *Worker) handleFetchError(err error, from, to uint64) error {
	switch kind := chain.Classify(err); kind {
	case chain.KindRangeTooLarge, chain.KindRateLimited:
		w.halvings++
		w.window = w.maxWindow >> w.halvings
		if w.window == 0 {
			w.window = 1
		}
		if m := w.cfg.Metrics; m != nil {
			m.BlockWindow.WithLabelValues(w.cfg.Scope.Network, w.cfg.Scope.Category).Set(float64(w.window))
		}
		w.logger.Warn("provider rejected window, shrinking",
			zap.String("kind", kind.String()),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Uint64("next_window", w.window))
		return nil
	case chain.KindBenign:
		w.logger.Warn("benign provider error", zap.Error(err))
		return nil
	default:
		return err
	}
}

func (w *Worker) resetWindow() {
	if w.halvings == 0 {
		return
	}
	w.halvings = 0
	w.window = w.maxWindow
	if m := w.cfg.Metrics; m != nil {
		m.BlockWindow.WithLabelValues(w.cfg.Scope.Network, w.cfg.Scope.Category).Set(float64(w.window))
	}
}

// markSynced flips the worker to synced and fires the one-shot callback.
// The trigger stays pending until the callback succeeds.
func (w *Worker) markSynced(ctx context.Context) error {
	if !w.synced {
		w.synced = true
		w.syncedPending = true
		w.logger.Info("worker caught up with chain head")
	}
	if !w.syncedPending || w.cfg.MarkSynced == nil {
		w.syncedPending = false
		return nil
	}
	if err := w.cfg.MarkSynced(ctx); err != nil {
		return fmt.Errorf("failed to mark synced: %w", err)
	}
	w.syncedPending = false
	return nil
}
