package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintra/marketscan/kv"
	"github.com/mintra/marketscan/ledger"
)

var testScope = Scope{Network: "polygon", Category: "transfer", Contract: "0xc0ffee"}

func newLedger(t *testing.T) ledger.Store {
	t.Helper()
	store, err := ledger.NewPebbleStore(&ledger.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func staticHeight(h uint64) func(ctx context.Context) (uint64, error) {
	return func(ctx context.Context) (uint64, error) { return h, nil }
}

func TestCheckpointFallbackDeployBlock(t *testing.T) {
	cp := NewCheckpointStore(newLedger(t))
	ctx := context.Background()

	next, err := cp.Next(ctx, testScope, 1000, staticHeight(99999))
	require.NoError(t, err)
	assert.Equal(t, uint64(999), next, "fallback is deploy block minus one")

	// The fallback must have been persisted on first read
	next, err = cp.Next(ctx, testScope, 0, staticHeight(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(999), next)
}

func TestCheckpointFallbackChainHeight(t *testing.T) {
	cp := NewCheckpointStore(newLedger(t))
	ctx := context.Background()

	next, err := cp.Next(ctx, testScope, 0, staticHeight(5555))
	require.NoError(t, err)
	assert.Equal(t, uint64(5555), next)
}

func TestCheckpointNeverRegresses(t *testing.T) {
	cp := NewCheckpointStore(newLedger(t))
	ctx := context.Background()

	require.NoError(t, cp.Advance(ctx, testScope, 4999))

	next, err := cp.Next(ctx, testScope, 0, staticHeight(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), next, "advance stores the next block to scan")

	// A stale replay after a failed batch must not move the checkpoint back
	require.NoError(t, cp.Advance(ctx, testScope, 100))

	next, err = cp.Next(ctx, testScope, 0, staticHeight(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), next)
}

func TestHeightCacheBoundsFetches(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Unix(1000, 0)
	store.SetClock(func() time.Time { return now })

	hc := NewHeightCache(store)
	ctx := context.Background()

	fetches := 0
	fetch := func(ctx context.Context) (uint64, error) {
		fetches++
		return 42000, nil
	}

	for i := 0; i < 5; i++ {
		h, err := hc.Height(ctx, "polygon", fetch)
		require.NoError(t, err)
		assert.Equal(t, uint64(42000), h)
	}
	assert.Equal(t, 1, fetches, "concurrent pollers share one cached height")

	now = now.Add(11 * time.Second)
	_, err := hc.Height(ctx, "polygon", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches, "cache expires after the TTL")
}

func TestImportQuota(t *testing.T) {
	q := NewImportQuota(kv.NewMemoryStore())
	ctx := context.Background()

	exceeded, err := q.Exceeded(ctx, "polygon", 3)
	require.NoError(t, err)
	assert.False(t, exceeded)

	for i := 0; i < 3; i++ {
		_, err := q.Increment(ctx, "polygon")
		require.NoError(t, err)
	}

	exceeded, err = q.Exceeded(ctx, "polygon", 3)
	require.NoError(t, err)
	assert.True(t, exceeded)

	exceeded, err = q.Exceeded(ctx, "bsc", 3)
	require.NoError(t, err)
	assert.False(t, exceeded, "budgets are per network")

	// The counter holds until the external reset runs
	require.NoError(t, q.Reset(ctx))
	exceeded, err = q.Exceeded(ctx, "polygon", 3)
	require.NoError(t, err)
	assert.False(t, exceeded)
}
