package dispatcher

import (
	"context"
	"sync"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/common/errors"
)

// Dispatcher fans domain events out to the handlers registered for their
// concrete type. Handlers run on the caller's goroutine unless an unordered
// dispatch is requested explicitly.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// DispatchOne invokes every handler registered for the event, sequentially.
// The first handler error propagates to the caller, so a failing side effect
// can veto the enclosing business transaction. Handler order among multiple
// handlers for the same event is unspecified. An event with no handlers is a
// no-op.
func (d *Dispatcher) DispatchOne(ctx context.Context, e event.DomainEvent) error {
	for _, handle := range d.registry.handlersFor(e.EventType()) {
		if err := handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// DispatchCollected invokes every handler registered for the event even when
// some fail, returning the joined errors. Use it when handler side effects
// must not veto each other.
func (d *Dispatcher) DispatchCollected(ctx context.Context, e event.DomainEvent) error {
	var err error
	for _, handle := range d.registry.handlersFor(e.EventType()) {
		err = errors.Join(err, handle(ctx, e))
	}
	return err
}

// DispatchOrdered dispatches the events one after another in slice order,
// stopping at the first failure.
func (d *Dispatcher) DispatchOrdered(ctx context.Context, events []event.DomainEvent) error {
	for _, e := range events {
		if err := d.DispatchOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// DispatchUnordered dispatches the events concurrently. Cross-event ordering
// is not guaranteed; callers needing order must use DispatchOrdered. All
// events are attempted and failures are joined.
func (d *Dispatcher) DispatchUnordered(ctx context.Context, events []event.DomainEvent) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, e := range events {
		wg.Add(1)
		go func(e event.DomainEvent) {
			defer wg.Done()
			if err := d.DispatchOne(ctx, e); err != nil {
				mu.Lock()
				errs = errors.Join(errs, err)
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errs
}
