package reconcile

import (
	"context"
	"fmt"

	"github.com/mintra/marketscan/events"
	"github.com/mintra/marketscan/metrics"
)

// Handler applies one parsed chain event to the ledger. Implementations are
// idempotent: reapplying an already-applied event changes nothing.
//
// Business misses (a referenced row that does not exist, an event already
// applied) are soft: the handler logs and returns nil so one unresolved
// reference never aborts the rest of a batch. Only infrastructure failures
// return an error.
type Handler interface {
	Apply(ctx context.Context, rec events.Record) error
}

// Registry maps event categories to handlers. It is constructed once at
// process start and passed to every scanner worker; there is no package
// level state.
type Registry struct {
	handlers map[events.Category]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[events.Category]Handler)}
}

// Register binds a category to its handler, replacing any previous binding
func (r *Registry) Register(c events.Category, h Handler) {
	r.handlers[c] = h
}

// Handler returns the handler bound to a category
func (r *Registry) Handler(c events.Category) (Handler, bool) {
	h, ok := r.handlers[c]
	return h, ok
}

// Apply dispatches a record to its category's handler
func (r *Registry) Apply(ctx context.Context, rec events.Record) error {
	h, ok := r.handlers[rec.Category()]
	if !ok {
		return fmt.Errorf("no handler registered for category %q", rec.Category())
	}
	return h.Apply(ctx, rec)
}

// countSoftMiss records an event skipped over an unresolved reference
func countSoftMiss(m *metrics.Metrics, c events.Category) {
	if m == nil {
		return
	}
	m.SoftMissesTotal.WithLabelValues(string(c)).Inc()
}
