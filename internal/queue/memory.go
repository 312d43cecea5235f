package queue

import (
	"context"
	"sync"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// MemoryQueue is a buffered in-process queue for single-process mode and
// tests. Jobs are lost on restart and failed jobs are not retried.
type MemoryQueue struct {
	jobs chan *domain.TransportJob
	log  *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1000
	}
	return &MemoryQueue{
		jobs: make(chan *domain.TransportJob, size),
		log:  logger.New("queue.memory"),
	}
}

// Publish blocks while the buffer is full, until ctx is done.
func (q *MemoryQueue) Publish(ctx context.Context, job *domain.TransportJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := h(ctx, job); err != nil {
				q.log.Warn("transport job failed", "job_id", job.ID, "error", err)
			}
		}
	}
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len() int { return len(q.jobs) }

// Close stops accepting jobs. Pending jobs are still delivered.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
