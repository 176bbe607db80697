// Package queue provides small queue helpers shared by go-mfs packages.
package queue

// Ring is a bounded FIFO ring buffer. When full, pushing a new item evicts
// the oldest one. The zero value is not usable; create instances with NewRing.
//
// Ring is not goroutine-safe; callers must provide their own synchronization.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing creates a ring buffer holding at most capacity items.
// A capacity below 1 is coerced to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends item to the tail. If the ring is full, the oldest item is
// evicted and returned with evicted=true.
func (r *Ring[T]) Push(item T) (old T, evicted bool) {
	tail := (r.head + r.size) % len(r.items)
	if r.size == len(r.items) {
		old = r.items[r.head]
		r.items[tail] = item
		r.head = (r.head + 1) % len(r.items)
		return old, true
	}

	r.items[tail] = item
	r.size++

	return old, false
}

// At returns a pointer to the i-th item counted from the oldest one,
// or nil if i is out of range. The pointer stays valid until the item
// is evicted.
func (r *Ring[T]) At(i int) *T {
	if i < 0 || i >= r.size {
		return nil
	}
	return &r.items[(r.head+i)%len(r.items)]
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the maximum number of items the ring can hold.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Snapshot returns a copy of the items in oldest-to-newest order.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Reset drops all items. The underlying storage is reused.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
