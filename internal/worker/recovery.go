// Package worker hosts the long-running background loops: stale claim
// recovery for the campaign job store and the transport job send pool.
package worker

import (
	"context"
	"time"

	"github.com/ignite/mailpipe/internal/pkg/logger"
)

const (
	// DefaultRecoveryInterval is how often we scan for stuck claims.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a job may stay in processing before it is
	// considered abandoned by a crashed batch.
	DefaultStaleAge = 10 * time.Minute
)

// ClaimRecoverer returns abandoned processing jobs to the queue.
type ClaimRecoverer interface {
	RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)
}

// ClaimRecoveryWorker periodically requeues jobs whose batch died between
// claiming and completing them.
type ClaimRecoveryWorker struct {
	rec      ClaimRecoverer
	interval time.Duration
	staleAge time.Duration
	log      *logger.Logger
}

func NewClaimRecoveryWorker(rec ClaimRecoverer, interval, staleAge time.Duration) *ClaimRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &ClaimRecoveryWorker{
		rec:      rec,
		interval: interval,
		staleAge: staleAge,
		log:      logger.New("claim_recovery"),
	}
}

// Start runs the recovery loop until ctx is cancelled.
func (w *ClaimRecoveryWorker) Start(ctx context.Context) {
	w.log.Info("starting", "interval", w.interval, "stale_age", w.staleAge)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single recovery pass and returns the number of jobs
// requeued. Errors are logged.
func (w *ClaimRecoveryWorker) RunOnce(ctx context.Context) int {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := w.rec.RecoverStaleClaims(queryCtx, w.staleAge)
	if err != nil {
		w.log.Error("recover stale claims failed", "error", err)
		return 0
	}
	if n > 0 {
		w.log.Warn("requeued stale claims", "count", n)
	}
	return n
}
