package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueCtxDone = errors.New("queue: context done")
	ErrQueueFull    = errors.New("queue: full")
	ErrQueueTimeout = errors.New("queue: pop timeout")
	ErrQueueClosed  = errors.New("queue: closed")
)

// Queue is a bounded FIFO connecting pipeline stages. Push never blocks
// (callers drop on ErrQueueFull), Pop blocks until an item arrives, the
// context is done, or the optional timeout elapses. Clear discards all
// pending items; it is used on interrupt paths.
type Queue[T any] struct {
	mu     sync.Mutex
	items  chan T
	closed bool
}

func NewQueue[T any](size int) *Queue[T] {
	return &Queue[T]{
		items: make(chan T, size),
	}
}

func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ch := q.items
	q.mu.Unlock()

	select {
	case ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop removes the oldest item. timeoutMs <= 0 blocks until an item or ctx
// cancellation.
func (q *Queue[T]) Pop(ctx context.Context, timeoutMs int) (T, error) {
	var zero T

	q.mu.Lock()
	ch := q.items
	q.mu.Unlock()

	if timeoutMs <= 0 {
		select {
		case item, ok := <-ch:
			if !ok {
				return zero, ErrQueueClosed
			}
			return item, nil
		case <-ctx.Done():
			return zero, ErrQueueCtxDone
		}
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case item, ok := <-ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return item, nil
	case <-ctx.Done():
		return zero, ErrQueueCtxDone
	case <-timer.C:
		return zero, ErrQueueTimeout
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drains all pending items without closing the queue and returns
// how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	ch := q.items
	q.mu.Unlock()
	dropped := 0
	for {
		select {
		case <-ch:
			dropped++
		default:
			return dropped
		}
	}
}

// Close rejects further pushes and wakes blocked consumers.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
}
