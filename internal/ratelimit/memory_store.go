package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	count   int64
	expires time.Time
}

// MemoryStore is a process-local Store for development and tests. Limits
// are not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry), now: time.Now}
}

func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || !now.Before(e.expires) {
		e = &memEntry{expires: now.Add(window)}
		m.entries[key] = e
		m.sweep(now)
	}
	e.count++
	return e.count, nil
}

// sweep drops expired keys. Called with mu held.
func (m *MemoryStore) sweep(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}
