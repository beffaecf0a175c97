// Package eventbus is a small typed in-process pub/sub.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler handles one event.
type Handler[T any] func(ctx context.Context, event T)

type subscription[T any] struct {
	name    string
	handler Handler[T]
}

// Bus fans events of type T out to named subscribers.
type Bus[T any] struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   []subscription[T]
}

// New creates an empty bus.
func New[T any](logger *zap.Logger) *Bus[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus[T]{logger: logger}
}

// Subscribe registers a handler; name shows up in logs when it panics.
func (b *Bus[T]) Subscribe(name string, handler Handler[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription[T]{name: name, handler: handler})
}

// Publish delivers event to every subscriber in registration order and returns
// once all of them have run. A panicking handler is logged and skipped.
func (b *Bus[T]) Publish(ctx context.Context, event T) {
	for _, s := range b.snapshot() {
		b.deliver(ctx, s, event)
	}
}

// PublishAsync delivers event to each subscriber on its own goroutine.
func (b *Bus[T]) PublishAsync(ctx context.Context, event T) {
	for _, s := range b.snapshot() {
		go b.deliver(ctx, s, event)
	}
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus[T]) snapshot() []subscription[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription[T], len(b.subs))
	copy(out, b.subs)
	return out
}

func (b *Bus[T]) deliver(ctx context.Context, s subscription[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus.handler_panic",
				zap.String("subscriber", s.name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.handler(ctx, event)
}
