package scan

import (
	"context"
	"strconv"

	"github.com/mintra/marketscan/kv"
)

const importQuotaPrefix = "import_requests__"

// ImportQuota budgets the provider requests import-mode workers may spend
// per network per day. The counter never self-expires: it is cleared only by
// an explicit external Reset, typically from a daily scheduled job.
type ImportQuota struct {
	store kv.Store
}

// NewImportQuota creates a quota guard over the shared store
func NewImportQuota(store kv.Store) *ImportQuota {
	return &ImportQuota{store: store}
}

func quotaKey(network string) string {
	return importQuotaPrefix + network
}

// Exceeded reports whether the network's request budget is spent
func (q *ImportQuota) Exceeded(ctx context.Context, network string, limit int64) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	v, err := q.store.Get(ctx, quotaKey(network))
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}

// Increment charges one request against the network's budget
func (q *ImportQuota) Increment(ctx context.Context, network string) (int64, error) {
	return q.store.Incr(ctx, quotaKey(network))
}

// Reset clears the given networks' counters, or every network's when none
// are named
func (q *ImportQuota) Reset(ctx context.Context, networks ...string) error {
	if len(networks) == 0 {
		keys, err := q.store.Keys(ctx, importQuotaPrefix+"*")
		if err != nil {
			return err
		}
		return q.store.Del(ctx, keys...)
	}
	keys := make([]string, len(networks))
	for i, n := range networks {
		keys[i] = quotaKey(n)
	}
	return q.store.Del(ctx, keys...)
}
