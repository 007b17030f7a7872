package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/waymarkhq/waymark/pkg/event"
)

// HandlerFunc processes one event. The context carries the tier's
// processing deadline; handlers must honour cancellation.
type HandlerFunc func(ctx context.Context, ev *event.Event) error

// Registry maps event types to handlers. One handler per type; routing
// fan-out belongs in the handler itself, not the registry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Type]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[event.Type]HandlerFunc),
	}
}

// Register binds a handler to an event type.
// Returns an error if the type is invalid or already bound.
func (r *Registry) Register(t event.Type, h HandlerFunc) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("handler for %s is nil", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for event type %s", t)
	}
	r.handlers[t] = h
	return nil
}

// MissingTypes lists the known event types with no handler bound.
// The dispatcher calls this before starting; a gap would durably fail
// every event of the unbound type.
func (r *Registry) MissingTypes() []event.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []event.Type
	for _, t := range event.Types {
		if _, ok := r.handlers[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// HandlerFor returns the handler bound to t, if any.
func (r *Registry) HandlerFor(t event.Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}
