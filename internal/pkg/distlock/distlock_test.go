package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRedisLockExclusive(t *testing.T) {
	rc, mr := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(rc, "coordinator:org-1", time.Minute)
	b := NewRedisLock(rc, "coordinator:org-1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the lock, so its release is a no-op
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:coordinator:org-1"))

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	rc, mr := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(rc, "k", time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewRedisLock(rc, "k", time.Second)
	ok, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Error(t, a.Extend(ctx, time.Minute))
}

func TestRedisLockExtend(t *testing.T) {
	rc, mr := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLock(rc, "k", time.Second)
	ok, _ := l.Acquire(ctx)
	require.True(t, ok)
	require.NoError(t, l.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("lock:k"))
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "coordinator:org-1")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(context.Background()))
	// second release is a no-op
	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "coordinator:org-1")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewFactory(t *testing.T) {
	rc, _ := setupRedis(t)
	assert.IsType(t, &RedisLock{}, NewFactory(rc, nil, time.Minute)("x"))

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	assert.IsType(t, &PGAdvisoryLock{}, NewFactory(nil, db, time.Minute)("x"))

	assert.Nil(t, NewFactory(nil, nil, time.Minute))
}
