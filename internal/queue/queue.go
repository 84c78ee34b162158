// Package queue provides the bounded FIFO that holds reports between
// capture and delivery.
//
// The queue has one producer and one consumer, both running on the
// cooperative scheduler, so it carries no locking. It is not safe for
// concurrent use.
package queue

// Queue is a fixed-capacity ring buffer with drop-oldest overflow.
// Insertion order is delivery order.
type Queue[T any] struct {
	items []T
	head  int
	size  int
}

// New creates a queue holding at most capacity items.
// A capacity below 1 is raised to 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Push appends item at the tail. If the queue is full the oldest item is
// evicted first and returned with dropped set.
func (q *Queue[T]) Push(item T) (evicted T, dropped bool) {
	if q.IsFull() {
		evicted, dropped = q.Pop()
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	return evicted, dropped
}

// Peek returns the oldest item without removing it
func (q *Queue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Drop removes the oldest item. It reports false if the queue was empty.
func (q *Queue[T]) Drop() bool {
	_, ok := q.Pop()
	return ok
}

// Pop removes and returns the oldest item
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// IsEmpty reports whether the queue holds no items
func (q *Queue[T]) IsEmpty() bool { return q.size == 0 }

// IsFull reports whether the next Push will evict
func (q *Queue[T]) IsFull() bool { return q.size == len(q.items) }

// Len returns the number of queued items
func (q *Queue[T]) Len() int { return q.size }

// Cap returns the fixed capacity
func (q *Queue[T]) Cap() int { return len(q.items) }
