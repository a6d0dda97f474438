// Package bus carries local change notifications between engine instances
// that share one local store. It is separate from network synchronisation:
// a publish never waits on the remote replica.
package bus

import (
	"context"
	"sync"
)

// Change announces that the listed store keys were rewritten by Origin.
type Change struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
	Clock  int64    `json:"clock"`
}

// Handler receives changes published by any instance, including the caller.
type Handler func(Change)

// Bus is a publish/subscribe channel for Change notifications.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, handler Handler) (unsubscribe func(), err error)
	Close() error
}

// Memory delivers changes synchronously to every subscriber in the process.
// Publish returns only after all handlers have run.
type Memory struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewMemory builds an in-process bus.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[int]Handler)}
}

// Publish invokes every subscribed handler in the caller's goroutine.
func (m *Memory) Publish(ctx context.Context, change Change) error {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h(change)
	}
	return nil
}

// Subscribe registers handler until the returned function is called.
func (m *Memory) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}, nil
}

// Close drops every subscriber.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.handlers = make(map[int]Handler)
	m.mu.Unlock()
	return nil
}
