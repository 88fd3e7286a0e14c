// Package queue defines the pending-work contract shared by the in-memory
// queue strategies and the priority levels tasks are scheduled with.
package queue

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed.
var ErrClosed = errors.New("queue closed")

// ErrTooManyDone is returned when MarkDone outnumbers enqueued items.
var ErrTooManyDone = errors.New("mark done called more times than items enqueued")

// Priority orders queued work; lower values are dequeued first.
type Priority int

// Priority levels.
const (
	Critical Priority = iota
	High
	Medium
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// FromResourcePriority maps a resource priority hint (0..3) onto a queue
// priority. Unknown hints schedule at Medium.
func FromResourcePriority(hint int) Priority {
	switch hint {
	case 0:
		return Critical
	case 1:
		return High
	case 2:
		return Medium
	case 3:
		return Low
	default:
		return Medium
	}
}

// Queue holds pending work for many concurrent producers and consumers.
//
// Every item returned by Dequeue must be acknowledged with exactly one
// MarkDone call. Join blocks until every enqueued item has been marked done.
type Queue[T any] interface {
	// Enqueue adds an item without blocking beyond an internal lock.
	Enqueue(item T, priority Priority) error
	// Dequeue blocks until an item is available, the queue closes, or ctx ends.
	Dequeue(ctx context.Context) (T, error)
	MarkDone() error
	Join(ctx context.Context) error
	// Len reports items waiting to be dequeued.
	Len() int
	// Close rejects further work and returns the items that were still
	// waiting; they are marked done without being executed.
	Close() []T
}
