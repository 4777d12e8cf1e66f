package mapview

import (
	"context"
	"sync"
)

// Flag is a watchable boolean. Waiters block until the flag holds a value;
// watchers are called on every change.
type Flag struct {
	mu       sync.Mutex
	v        bool
	changed  chan struct{}
	watchers map[int]func(bool)
	nextID   int
}

// NewFlag creates a flag holding v.
func NewFlag(v bool) *Flag {
	return &Flag{v: v, changed: make(chan struct{}), watchers: make(map[int]func(bool))}
}

// Get returns the current value.
func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

// Set stores v and notifies watchers when the value changed.
func (f *Flag) Set(v bool) {
	f.mu.Lock()
	if f.v == v {
		f.mu.Unlock()
		return
	}
	f.v = v
	close(f.changed)
	f.changed = make(chan struct{})
	watchers := make([]func(bool), 0, len(f.watchers))
	for _, fn := range f.watchers {
		watchers = append(watchers, fn)
	}
	f.mu.Unlock()

	for _, fn := range watchers {
		fn(v)
	}
}

// Wait blocks until the flag equals want. It returns immediately when it
// already does.
func (f *Flag) Wait(ctx context.Context, want bool) error {
	for {
		f.mu.Lock()
		if f.v == want {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Watch calls fn on every change. With initial set, fn is also called once
// with the current value.
func (f *Flag) Watch(fn func(bool), initial bool) (off func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	v := f.v
	f.mu.Unlock()

	if initial {
		fn(v)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		})
	}
}
