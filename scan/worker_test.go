package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/kv"
	"github.com/mintra/marketscan/reconcile"
)

// fakeRecord is a minimal event record for dispatch tests
type fakeRecord struct{}

func (fakeRecord) Category() events.Category { return events.CategoryTransfer }

// countingHandler records how many events it applied
type countingHandler struct {
	applied int
	fail    error
}

func (h *countingHandler) Apply(ctx context.Context, rec events.Record) error {
	if h.fail != nil {
		return h.fail
	}
	h.applied++
	return nil
}

// fakeSource serves a fixed height and scripted log responses
type fakeSource struct {
	height  uint64
	errs    []error
	records []events.Record
	calls   int
	lastTo  uint64
}

func (s *fakeSource) Height(ctx context.Context) (uint64, error) {
	return s.height, nil
}

func (s *fakeSource) Logs(ctx context.Context, from, to uint64) ([]events.Record, error) {
	s.calls++
	s.lastTo = to
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.records, nil
}

func newWorkerFixture(t *testing.T, source *fakeSource, handler reconcile.Handler) *Worker {
	t.Helper()

	store := newLedger(t)
	reg := reconcile.NewRegistry()
	reg.Register(events.CategoryTransfer, handler)

	w, err := NewWorker(WorkerConfig{
		Scope:       testScope,
		Source:      source,
		Registry:    reg,
		Checkpoints: NewCheckpointStore(store),
		Heights:     NewHeightCache(kv.NewMemoryStore()),
		DeployBlock: 1,
	})
	require.NoError(t, err)
	return w
}

func TestWorkerAppliesWindowAndAdvances(t *testing.T) {
	source := &fakeSource{
		height:  20000,
		records: []events.Record{fakeRecord{}, fakeRecord{}},
	}
	handler := &countingHandler{}
	w := newWorkerFixture(t, source, handler)
	ctx := context.Background()

	require.NoError(t, w.iterate(ctx))

	assert.Equal(t, 2, handler.applied)
	assert.Equal(t, uint64(4999), source.lastTo, "first window spans the default block span from block 0")

	next, err := w.cfg.Checkpoints.Next(ctx, testScope, 0, staticHeight(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), next)
}

func TestWorkerWindowAdaptation(t *testing.T) {
	rangeErr := errors.New("block range is too large")
	source := &fakeSource{
		height: 2000000,
		errs:   []error{rangeErr, rangeErr, rangeErr, nil},
	}
	w := newWorkerFixture(t, source, &countingHandler{})
	ctx := context.Background()

	for n := 1; n <= 3; n++ {
		require.NoError(t, w.iterate(ctx))
		assert.Equal(t, uint64(constants.DefaultBlockWindow>>n), w.Window(),
			"window halves per consecutive rejection")
	}

	require.NoError(t, w.iterate(ctx))
	assert.Equal(t, uint64(constants.DefaultBlockWindow), w.Window(),
		"one success resets the window")
}

func TestWorkerWindowFloorsAtOne(t *testing.T) {
	rangeErr := errors.New("query returned more than 10000 results")
	source := &fakeSource{height: 2000000}
	for i := 0; i < 20; i++ {
		source.errs = append(source.errs, rangeErr)
	}
	w := newWorkerFixture(t, source, &countingHandler{})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, w.iterate(ctx))
	}
	assert.Equal(t, uint64(1), w.Window())
}

func TestWorkerFailedBatchLeavesCheckpoint(t *testing.T) {
	source := &fakeSource{
		height:  20000,
		records: []events.Record{fakeRecord{}},
	}
	handler := &countingHandler{fail: errors.New("ledger write failed")}
	w := newWorkerFixture(t, source, handler)
	ctx := context.Background()

	require.Error(t, w.iterate(ctx))

	next, err := w.cfg.Checkpoints.Next(ctx, testScope, 0, staticHeight(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), next, "checkpoint only advances after a full batch")

	// Replay succeeds and advances
	handler.fail = nil
	require.NoError(t, w.iterate(ctx))
	next, err = w.cfg.Checkpoints.Next(ctx, testScope, 0, staticHeight(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), next)
}

func TestWorkerBenignErrorSwallowed(t *testing.T) {
	source := &fakeSource{
		height: 20000,
		errs:   []error{errors.New("filter not found")},
	}
	w := newWorkerFixture(t, source, &countingHandler{})

	require.NoError(t, w.iterate(context.Background()))
	assert.Equal(t, uint64(constants.DefaultBlockWindow), w.Window(),
		"benign errors do not shrink the window")
}

func TestWorkerUnknownErrorEscapes(t *testing.T) {
	source := &fakeSource{
		height: 20000,
		errs:   []error{errors.New("connection reset by peer")},
	}
	w := newWorkerFixture(t, source, &countingHandler{})

	assert.Error(t, w.iterate(context.Background()), "unclassified faults escape to the supervisor")
}

func TestWorkerMarksSyncedOnce(t *testing.T) {
	source := &fakeSource{height: 1010}
	store := newLedger(t)
	reg := reconcile.NewRegistry()

	marks := 0
	w, err := NewWorker(WorkerConfig{
		Scope:       testScope,
		Source:      source,
		Registry:    reg,
		Checkpoints: NewCheckpointStore(store),
		Heights:     NewHeightCache(kv.NewMemoryStore()),
		// Checkpoint falls back near the head, so the first poll
		// already finds nothing final to scan
		DeployBlock: 1005,
		MarkSynced: func(ctx context.Context) error {
			marks++
			return nil
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.iterate(ctx))
	require.NoError(t, w.iterate(ctx))

	assert.True(t, w.Synced())
	assert.Equal(t, 1, marks, "the synced callback is one-shot")
	assert.Equal(t, 0, source.calls, "no-op polls never fetch logs")
}

func TestWorkerImportQuotaSkips(t *testing.T) {
	source := &fakeSource{height: 20000, records: []events.Record{fakeRecord{}}}
	handler := &countingHandler{}
	store := newLedger(t)
	reg := reconcile.NewRegistry()
	reg.Register(events.CategoryTransfer, handler)

	quota := NewImportQuota(kv.NewMemoryStore())
	ctx := context.Background()
	_, err := quota.Increment(ctx, testScope.Network)
	require.NoError(t, err)

	w, err := NewWorker(WorkerConfig{
		Scope:       testScope,
		Source:      source,
		Registry:    reg,
		Checkpoints: NewCheckpointStore(store),
		Heights:     NewHeightCache(kv.NewMemoryStore()),
		DeployBlock: 1,
		ImportMode:  true,
		Quota:       quota,
		QuotaLimit:  1,
	})
	require.NoError(t, err)

	require.NoError(t, w.iterate(ctx))
	assert.Equal(t, 0, source.calls, "exhausted quota skips the poll entirely")
	assert.Equal(t, 0, handler.applied)
}
