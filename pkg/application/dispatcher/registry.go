package dispatcher

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

// Handler processes one concrete domain event type.
type Handler[E event.DomainEvent] interface {
	Handle(ctx context.Context, e E) error
}

type HandlerFunc[E event.DomainEvent] func(ctx context.Context, e E) error

func (f HandlerFunc[E]) Handle(ctx context.Context, e E) error {
	return f(ctx, e)
}

type untypedHandler func(ctx context.Context, e event.DomainEvent) error

// Registry maps event type names to their handler sets. It is populated at
// startup through typed Register calls; there is no runtime type scanning.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]untypedHandler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]untypedHandler),
	}
}

// Register wires a typed handler to an event type name. The type assertion
// happens once per dispatch; an event registered under a name that does not
// match its concrete type fails the dispatch.
func Register[E event.DomainEvent](r *Registry, eventType string, handler Handler[E]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventType] = append(r.handlers[eventType], func(ctx context.Context, e event.DomainEvent) error {
		typed, ok := e.(E)
		if !ok {
			return errors.Errorf("handler for %q received event of unexpected concrete type %T", eventType, e)
		}
		return handler.Handle(ctx, typed)
	})
}

func (r *Registry) handlersFor(eventType string) []untypedHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[eventType]
}
