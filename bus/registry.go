// Package bus is the durable internal event queue: Redis streams with a
// shared consumer group, at-least-once delivery and a pending-entry recovery
// pass.
package bus

import (
	"context"
	"fmt"
	"sort"
)

// Message is one queue entry. Data carries a JSON document; UserURL is an
// optional link threaded through for notification rendering.
type Message struct {
	ID      string
	Topic   string
	Data    string
	UserURL string
}

// HandlerFunc processes one message. A nil return acknowledges the message;
// an error leaves it pending for the next recovery pass.
type HandlerFunc func(ctx context.Context, msg Message) error

// Registry maps topic names to handlers. It is built once at process start
// and handed to the consumer; the topic name doubles as the stream key.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty topic registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a topic to its handler
func (r *Registry) Register(topic string, fn HandlerFunc) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if _, dup := r.handlers[topic]; dup {
		return fmt.Errorf("topic %q already registered", topic)
	}
	r.handlers[topic] = fn
	return nil
}

// Handler returns the handler bound to a topic
func (r *Registry) Handler(topic string) (HandlerFunc, bool) {
	fn, ok := r.handlers[topic]
	return fn, ok
}

// Topics lists registered topics in stable order
func (r *Registry) Topics() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
