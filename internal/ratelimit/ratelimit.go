// Package ratelimit implements a fixed-window counter used to throttle
// manual batch sends per IP and per tenant, and coordinator ticks per
// tenant.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store increments a counter that expires after window. The increment and
// the expiry must be applied atomically.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Decision is the outcome of one CheckAndIncrement call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Guard applies fixed-window limits on top of a Store.
type Guard struct {
	store Store
	now   func() time.Time
}

// NewGuard creates a guard backed by store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// CheckAndIncrement counts one request against scope and reports whether it
// fits within limit for the current window. The counter is always
// incremented, so denied requests still consume the window.
func (g *Guard) CheckAndIncrement(ctx context.Context, scope string, limit int, window time.Duration) (Decision, error) {
	// windows are bucketed by whole milliseconds
	if window < time.Millisecond {
		return Decision{}, fmt.Errorf("ratelimit: window must be at least 1ms, got %s", window)
	}
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := g.now()
	slot := now.UnixMilli() / window.Milliseconds()
	key := fmt.Sprintf("rl:%s:%d", scope, slot)

	count, err := g.store.Incr(ctx, key, window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit incr %s: %w", scope, err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count <= int64(limit) {
		return Decision{Allowed: true, Remaining: remaining}, nil
	}

	windowEnd := time.UnixMilli((slot + 1) * window.Milliseconds())
	retry := windowEnd.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
}

// RetryAfterSeconds rounds the retry delay up to whole seconds for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}
