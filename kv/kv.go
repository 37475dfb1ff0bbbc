// Package kv provides the shared key-value store backing cross-worker state:
// the chain-height cache, import quota counters and fault dedup counters.
// All coordination happens through atomic get/incr/expire primitives; no
// application-level locking is needed.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("kv: not found")

// Store is the minimal key-value surface the scanners rely on
type Store interface {
	// Get fetches a key's value; ErrNotFound if absent
	Get(ctx context.Context, key string) (string, error)

	// Set writes a key; a zero ttl means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments a counter, creating it at 1
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a key's time to live
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys lists keys matching a glob pattern
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Del removes keys; missing keys are ignored
	Del(ctx context.Context, keys ...string) error
}
