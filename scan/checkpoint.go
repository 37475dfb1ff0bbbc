// Package scan holds the scanning engine: per-scope workers polling chain
// logs, checkpointing, quota guarding and fault supervision.
package scan

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mintra/marketscan/internal/constants"
	"github.com/mintra/marketscan/kv"
	"github.com/mintra/marketscan/ledger"
)

// Scope identifies one scanner instance's checkpoint
type Scope struct {
	Network  string
	Category string
	Contract string
}

func (s Scope) String() string {
	return s.Network + "/" + s.Category + "/" + s.Contract
}

// CheckpointStore persists each scope's next block to scan in the ledger.
// Values are monotonically non-decreasing, including across restarts.
type CheckpointStore struct {
	store ledger.Store
}

// NewCheckpointStore creates a checkpoint store over the ledger
func NewCheckpointStore(store ledger.Store) *CheckpointStore {
	return &CheckpointStore{store: store}
}

// Next returns the scope's next block to scan. On first read the fallback
// (deploy block minus one when known, otherwise the current chain height) is
// computed and persisted immediately.
func (c *CheckpointStore) Next(ctx context.Context, scope Scope, deployBlock uint64, height func(ctx context.Context) (uint64, error)) (uint64, error) {
	var block uint64
	err := c.store.View(ctx, func(tx ledger.Tx) error {
		b, err := tx.GetCheckpoint(scope.Network, scope.Category, scope.Contract)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err == nil {
		return block, nil
	}
	if err != ledger.ErrNotFound {
		return 0, err
	}

	if deployBlock > 0 {
		block = deployBlock - 1
	} else {
		h, err := height(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to compute checkpoint fallback: %w", err)
		}
		block = h
	}

	err = c.store.Update(ctx, func(tx ledger.Tx) error {
		return tx.PutCheckpoint(scope.Network, scope.Category, scope.Contract, block)
	})
	if err != nil {
		return 0, err
	}
	return block, nil
}

// Advance stores lastScanned+1 as the scope's next block. Called only after
// a full batch applied successfully; regressions are silently refused.
func (c *CheckpointStore) Advance(ctx context.Context, scope Scope, lastScanned uint64) error {
	next := lastScanned + 1
	return c.store.Update(ctx, func(tx ledger.Tx) error {
		cur, err := tx.GetCheckpoint(scope.Network, scope.Category, scope.Contract)
		if err != nil && err != ledger.ErrNotFound {
			return err
		}
		if err == nil && cur >= next {
			return nil
		}
		return tx.PutCheckpoint(scope.Network, scope.Category, scope.Contract, next)
	})
}

// HeightCache bounds chain-head RPC calls across the many workers sharing a
// network by caching the height for a short TTL in the shared store.
type HeightCache struct {
	store kv.Store
	ttl   time.Duration
}

// NewHeightCache creates a height cache with the default TTL
func NewHeightCache(store kv.Store) *HeightCache {
	return &HeightCache{store: store, ttl: constants.HeightCacheTTL}
}

func heightKey(network string) string {
	return "chain_height__" + network
}

// Height returns the network's chain head, fetching through fetch on a cache
// miss
func (h *HeightCache) Height(ctx context.Context, network string, fetch func(ctx context.Context) (uint64, error)) (uint64, error) {
	if v, err := h.store.Get(ctx, heightKey(network)); err == nil {
		if cached, perr := strconv.ParseUint(v, 10, 64); perr == nil {
			return cached, nil
		}
	} else if err != kv.ErrNotFound {
		return 0, err
	}

	height, err := fetch(ctx)
	if err != nil {
		return 0, err
	}
	if err := h.store.Set(ctx, heightKey(network), strconv.FormatUint(height, 10), h.ttl); err != nil {
		return 0, err
	}
	return height, nil
}
