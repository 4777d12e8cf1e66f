// Package event carries the viewer's cross-component signals as typed buses.
package event

import "sync"

// Bus is a typed fan-out pub/sub. Observers registered with On are called
// synchronously on every Publish; channel subscribers are fed non-blocking.
type Bus[T any] struct {
	mu        sync.RWMutex
	subs      map[chan T]struct{}
	observers map[int]func(T)
	nextID    int
}

// NewBus creates a new bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{
		subs:      make(map[chan T]struct{}),
		observers: make(map[int]func(T)),
	}
}

// Publish delivers e to every observer, then to every channel subscriber.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	observers := make([]func(T), 0, len(b.observers))
	for _, fn := range b.observers {
		observers = append(observers, fn)
	}
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
	b.mu.RUnlock()

	for _, fn := range observers {
		fn(e)
	}
}

// On registers an observer and returns a function that removes it.
func (b *Bus[T]) On(fn func(T)) (off func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
