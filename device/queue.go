package device

import "context"

// Queue is a bounded FIFO handing work from interrupt context to a task.
//
// Push never blocks: when the queue is full the oldest pending item is
// dropped to make room. Pop blocks until an item arrives or the context is
// done.
type Queue[T any] struct {
	items chan T
}

// NewQueue creates a queue holding at most size items.
func NewQueue[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}
	return &Queue[T]{items: make(chan T, size)}
}

// Push appends v. It reports whether an older item was dropped.
func (q *Queue[T]) Push(v T) (dropped bool) {
	for {
		select {
		case q.items <- v:
			return dropped
		default:
		}
		select {
		case <-q.items:
			dropped = true
		default:
		}
	}
}

// Pop removes the oldest item, blocking until one is available.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryPop removes the oldest item if one is pending.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
