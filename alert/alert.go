// Package alert delivers operator notifications. Alerts are fire-and-forget:
// delivery failures are logged, never propagated, so alerting can never take
// a scanner down.
package alert

import "context"

// Notifier sends a text notification to an operator channel
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Nop discards all notifications
type Nop struct{}

var _ Notifier = Nop{}

// Notify implements Notifier
func (Nop) Notify(ctx context.Context, text string) {}
