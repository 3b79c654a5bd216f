// Package memory provides the in-process fetch job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Queue is a bounded FIFO of fetch jobs.
type Queue struct {
	ch   chan tracker.FetchJob
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ tracker.JobQueue = (*Queue)(nil)

// NewQueue returns a queue holding up to capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan tracker.FetchJob, capacity), done: make(chan struct{})}
}

// Enqueue adds job, waiting for room until ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, job tracker.FetchJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return tracker.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return tracker.ErrQueueClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue waits for the next job. Jobs still buffered at Close are drained
// before ErrQueueClosed is returned.
func (q *Queue) Dequeue(ctx context.Context) (tracker.FetchJob, error) {
	select {
	case <-ctx.Done():
		return tracker.FetchJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return tracker.FetchJob{}, tracker.ErrQueueClosed
		}
	}
}

// Len reports the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
