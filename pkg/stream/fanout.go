package stream

import "sync"

// Fanout publishes values to any number of Latest subscribers and remembers
// the current value for late subscribers.
type Fanout[T any] struct {
	mu      sync.Mutex
	subs    map[*Latest[T]]struct{}
	current T
	has     bool
	closed  bool
}

// NewFanout creates a Fanout seeded with an initial value.
func NewFanout[T any](initial T) *Fanout[T] {
	return &Fanout[T]{
		subs:    make(map[*Latest[T]]struct{}),
		current: initial,
		has:     true,
	}
}

// Publish stores v as the current value and forwards it to all subscribers.
func (f *Fanout[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.current = v
	f.has = true
	for sub := range f.subs {
		sub.Publish(v)
	}
}

// Current returns the last published value.
func (f *Fanout[T]) Current() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Subscribe registers a new subscriber primed with the current value.
// The returned cancel func closes the subscription.
func (f *Fanout[T]) Subscribe() (<-chan T, func()) {
	sub := NewLatest[T]()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.Close()
		return sub.C(), func() {}
	}
	if f.has {
		sub.Publish(f.current)
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		sub.Close()
	}
	return sub.C(), cancel
}

// Close closes every subscription.
func (f *Fanout[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		sub.Close()
	}
	f.subs = nil
}
