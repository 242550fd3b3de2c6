// Package notify provides a small in-process broadcast bus.
package notify

import (
	"slices"
	"sync"
)

// Subscription cancels a registered handler.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// Bus fans published values out to subscribers. Handlers run on the
// publishing goroutine, outside the bus lock, so a handler may subscribe or
// unsubscribe without deadlocking.
type Bus[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)
}

// Subscribe registers fn and returns a handle that removes it. Unsubscribe
// is idempotent.
func (b *Bus[T]) Subscribe(fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[uint64]func(T))
	}
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	})
}

// Publish delivers value to every handler registered at call time, in
// subscription order.
func (b *Bus[T]) Publish(value T) {
	for _, fn := range b.snapshot() {
		fn(value)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *Bus[T]) snapshot() []func(T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, b.handlers[id])
	}
	return out
}
