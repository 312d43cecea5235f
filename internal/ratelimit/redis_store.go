package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with a Lua INCR/PEXPIRE script so the expiry
// is set exactly once per window.
type RedisStore struct {
	rc redis.Cmdable
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rc redis.Cmdable) *RedisStore {
	return &RedisStore{rc: rc}
}

var luaFixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then redis.call('PEXPIRE', KEYS[1], ARGV[1]) end
return current
`)

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return luaFixedWindow.Run(ctx, s.rc, []string{key}, window.Milliseconds()).Int64()
}
