package workerpool

import "sync"

// queue is an unbounded FIFO ring buffer that doubles its capacity when full.
// Send never blocks; Receive blocks until an item arrives or the queue is
// closed and drained.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool
}

func newQueue[T any](initialCapacity int) *queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &queue[T]{buf: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends an item. Returns false if the queue is closed.
func (q *queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++

	q.cond.Signal()
	return true
}

// Receive removes the oldest item, blocking while the queue is empty and open.
// Returns false once the queue is closed and empty.
func (q *queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

// Close stops accepting items. Pending items can still be received.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of pending items.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles the capacity. Must be called with lock held.
func (q *queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
}
