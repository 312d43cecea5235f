// Package queue carries transport jobs from the scheduling coordinator to
// the delivery worker.
package queue

import (
	"context"
	"errors"

	"github.com/ignite/mailpipe/internal/domain"
)

// DefaultName is the queue transport jobs are published to.
const DefaultName = "transport_jobs"

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Handler processes one transport job. A returned error marks the delivery
// as failed; the queue decides whether it is retried.
type Handler func(ctx context.Context, job *domain.TransportJob) error

// Publisher enqueues transport jobs.
type Publisher interface {
	Publish(ctx context.Context, job *domain.TransportJob) error
}

// Consumer delivers jobs to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}
