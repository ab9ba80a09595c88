package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// entry is one stored value with its expiry.
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Memory is the in-process cache implementation. Expired entries are
// dropped lazily on access and swept opportunistically on Put.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemory creates an empty in-memory cache with the package default TTL.
func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[string]entry),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached value for key, or a miss when absent or expired.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry since the read.
		if cur, still := m.entries[key]; still && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
			m.evictions.Add(1)
		}
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, false, nil
	}
	m.hits.Add(1)
	return e.value, true, nil
}

// Put stores value under key. A zero or negative ttl uses the default.
func (m *Memory) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := m.now()
	m.entries[key] = entry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	m.sweepLocked(now)
	return nil
}

// sweepLocked removes expired entries. Caller holds the write lock.
func (m *Memory) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			m.evictions.Add(1)
		}
	}
}

// Clear removes all entries.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

// Stats returns current usage counters.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	size := len(m.entries)
	ttl := m.defaultTTL
	m.mu.RUnlock()
	return Stats{
		Size:       size,
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
		Evictions:  m.evictions.Load(),
		DefaultTTL: ttl,
	}, nil
}

// SetDefaultTTL changes the TTL applied to entries stored without one.
// Existing entries keep their original expiry.
func (m *Memory) SetDefaultTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.defaultTTL = d
	m.mu.Unlock()
}
