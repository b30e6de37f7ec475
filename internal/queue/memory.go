package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned from operations on a closed in-memory
// queue.
var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is a channel-backed queue for tests and single-process
// deployments where Redis is not available
type MemoryQueue struct {
	jobs   chan Job
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue with the given capacity
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		jobs: make(chan Job, capacity),
	}
}

// Enqueue holds a read lock across the send so a concurrent Close
// cannot close the channel out from under it.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
