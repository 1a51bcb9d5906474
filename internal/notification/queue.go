package notification

import (
	"sync"
)

// Queue is a thread-safe FIFO ring that doubles its capacity at 70% fill,
// up to limit items. Push fails once limit items are pending.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	limit  int
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Pending  int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// NewQueue creates a queue with the given initial capacity. limit <= 0 means unbounded.
func NewQueue[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit > 0 && initial > limit {
		initial = limit
	}
	q := &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false if the queue is closed or full.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && q.count >= q.limit {
		q.dropped++
		return false
	}

	threshold := (len(q.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold || q.count == len(q.buf) {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop blocks until an item is available. It returns false once the queue is
// closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// TryPop returns the next item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// Close stops accepting items. Pending items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:  q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// take removes the head item. Must be called with lock held and count > 0.
func (q *Queue[T]) take() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return item
}

// grow doubles the ring, capped at limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	size := len(q.buf) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size <= len(q.buf) {
		return
	}

	buf := make([]T, size)
	if q.count > 0 {
		if q.head < q.tail {
			copy(buf, q.buf[q.head:q.tail])
		} else {
			n := copy(buf, q.buf[q.head:])
			copy(buf[n:], q.buf[:q.tail])
		}
	}

	q.buf = buf
	q.head = 0
	q.tail = q.count
	q.resizes++
}
