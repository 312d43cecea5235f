// Package distlock provides cross-process mutual exclusion for work that
// must run on one replica at a time, such as a tenant's coordinator pass.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a non-blocking distributed lock.
// A lock instance tracks its own ownership; concurrent holders need
// separate instances.
type DistLock interface {
	// Acquire tries to take the lock. Returns false if another holder has it.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory creates a lock for a key.
type Factory func(key string) DistLock

// NewFactory returns a Factory backed by Redis when rc is non-nil, falling
// back to PostgreSQL advisory locks otherwise. Returns nil when neither
// backend is available.
func NewFactory(rc redis.Cmdable, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case rc != nil:
		return func(key string) DistLock { return NewRedisLock(rc, key, ttl) }
	case db != nil:
		return func(key string) DistLock { return NewPGAdvisoryLock(db, key) }
	default:
		return nil
	}
}

// PGAdvisoryLock implements DistLock with pg_try_advisory_lock. Advisory
// locks are session scoped, so the lock pins one pool connection from
// Acquire until Release. The lock is dropped by Postgres if that
// connection dies.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a stable 64-bit lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d already held by this instance", l.lockID)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.lockID, err)
	}
	return closeErr
}
