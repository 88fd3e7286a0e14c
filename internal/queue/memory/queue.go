// Package memory provides in-process queue strategies.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/isbn-scraper/internal/queue"
)

type entry[T any] struct {
	item     T
	priority queue.Priority
	enqueued time.Time
	seq      uint64
}

type store[T any] interface {
	push(e entry[T])
	pop() entry[T]
	len() int
}

// Queue is a mutex-guarded queue whose ordering is decided by its store.
// Waiters park on a broadcast channel that is replaced on every state change.
type Queue[T any] struct {
	mu      sync.Mutex
	items   store[T]
	pending int
	seq     uint64
	closed  bool
	changed chan struct{}
}

// NewSimple returns a strict FIFO queue. The priority argument of Enqueue is
// accepted and ignored.
func NewSimple[T any]() *Queue[T] {
	return newQueue[T](&fifo[T]{})
}

// NewPriority returns a queue that dequeues in ascending priority, breaking
// ties by enqueue order.
func NewPriority[T any]() *Queue[T] {
	return newQueue[T](&priorityHeap[T]{})
}

func newQueue[T any](s store[T]) *Queue[T] {
	return &Queue[T]{
		items:   s,
		changed: make(chan struct{}),
	}
}

var _ queue.Queue[int] = (*Queue[int])(nil)

// Enqueue adds item to the queue.
func (q *Queue[T]) Enqueue(item T, priority queue.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("enqueue: %w", queue.ErrClosed)
	}
	q.seq++
	q.items.push(entry[T]{item: item, priority: priority, enqueued: time.Now(), seq: q.seq})
	q.pending++
	q.broadcastLocked()
	return nil
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.items.len() > 0 {
			e := q.items.pop()
			q.mu.Unlock()
			return e.item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, queue.ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// MarkDone acknowledges one dequeued item.
func (q *Queue[T]) MarkDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return queue.ErrTooManyDone
	}
	q.pending--
	if q.pending == 0 {
		q.broadcastLocked()
	}
	return nil
}

// Join blocks until every enqueued item has been marked done.
func (q *Queue[T]) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("join canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len reports the number of items waiting to be dequeued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len()
}

// Pending reports items enqueued but not yet marked done.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close drains waiting items, marking each done, and wakes all waiters.
// Closing twice is safe; the second call returns nil.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	var drained []T
	for q.items.len() > 0 {
		drained = append(drained, q.items.pop().item)
		q.pending--
	}
	q.broadcastLocked()
	return drained
}

func (q *Queue[T]) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
