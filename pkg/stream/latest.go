// Package stream provides most-recent-wins value streams.
//
// A slow consumer never blocks a producer: each stream buffers a single
// pending value and a newer value overwrites an unconsumed one. Consumers may
// miss intermediate states but never observe them out of order.
package stream

import "sync"

// Latest is a single-consumer stream that keeps only the newest pending value.
type Latest[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	last    T
	hasLast bool
	dropped uint64
}

// NewLatest creates an open stream.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{ch: make(chan T, 1)}
}

// Publish offers v to the consumer, replacing any unconsumed value.
// Returns false if the stream is closed.
func (l *Latest[T]) Publish(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	l.last = v
	l.hasLast = true

	select {
	case <-l.ch:
		l.dropped++
	default:
	}
	// Only Publish sends and it holds mu, so the slot is free here.
	l.ch <- v
	return true
}

// C returns the receive side. It is closed by Close after any pending value
// has been delivered.
func (l *Latest[T]) C() <-chan T {
	return l.ch
}

// Value returns the most recently published value.
func (l *Latest[T]) Value() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.hasLast
}

// Dropped returns how many values were overwritten before being consumed.
func (l *Latest[T]) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close terminates the stream. It is safe to call Close multiple times.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}

// Closed reports whether Close has been called.
func (l *Latest[T]) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
