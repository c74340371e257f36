// Package buffer provides a generic, thread-safe ring buffer with
// configurable overflow policies.
//
// Transports use it to absorb inbound bursts without blocking the wire:
// when the buffer is full, either the oldest buffered item is displaced
// (DropOldest) or the new item is discarded (DropNewest). Every drop is
// counted, and an optional callback observes the dropped item.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/dxos-deprecated/broadcast/errors"
)

// Policy defines how the buffer behaves when it reaches capacity.
type Policy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest Policy = iota

	// DropNewest discards new items while the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropFunc observes an item dropped due to the overflow policy.
type DropFunc[T any] func(item T)

// Stats is a snapshot of the buffer's counters.
type Stats struct {
	Writes int64
	Reads  int64
	Drops  int64
	Size   int
}

// Ring is a fixed-capacity circular buffer.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	policy   Policy
	onDrop   DropFunc[T]
	closed   bool

	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64
}

// NewRing creates a ring buffer with the given capacity and overflow policy.
// A non-nil onDrop is invoked (outside the buffer lock) for every item lost
// to the policy.
func NewRing[T any](capacity int, policy Policy, onDrop DropFunc[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
		onDrop:   onDrop,
	}
}

// Write adds an item according to the overflow policy.
func (r *Ring[T]) Write(item T) error {
	var dropped T
	var didDrop bool

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrClosed, "buffer", "Write", "write to closed buffer")
	}

	if r.size == r.capacity {
		r.drops.Add(1)
		switch r.policy {
		case DropOldest:
			dropped = r.items[r.tail]
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			didDrop = true
		case DropNewest:
			r.mu.Unlock()
			if r.onDrop != nil {
				r.onDrop(item)
			}
			return nil
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.writes.Add(1)
	r.mu.Unlock()

	if didDrop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return nil
}

// Read retrieves and removes one item.
// Returns the zero value and false if the buffer is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.reads.Add(1)
	return item, true
}

// ReadBatch retrieves and removes up to max items.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max <= 0 || r.size == 0 {
		return nil
	}
	n := max
	if n > r.size {
		n = r.size
	}

	var zero T
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.reads.Add(1)
	}
	return out
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Clear removes all buffered items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
}

// Close marks the buffer closed; subsequent writes fail. Reads drain
// whatever remains.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Stats returns a snapshot of the buffer counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	size := r.size
	r.mu.Unlock()
	return Stats{
		Writes: r.writes.Load(),
		Reads:  r.reads.Load(),
		Drops:  r.drops.Load(),
		Size:   size,
	}
}
