package notify

import "sync"

// Ring holds the last capacity values, oldest first.
type Ring[T any] struct {
	mu       sync.Mutex
	data     []T
	size     int
	capacity int
	head     int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{data: make([]T, capacity), capacity: capacity}
}

// Add appends v, replacing the oldest value when full.
func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// All returns the values in insertion order.
func (r *Ring[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil
	}
	out := make([]T, r.size)
	if r.size < r.capacity {
		copy(out, r.data[:r.size])
	} else {
		copy(out, r.data[r.head:])
		copy(out[r.capacity-r.head:], r.data[:r.head])
	}
	return out
}

func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
