package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// sweepInterval bounds how often writes scan for expired entries.
const sweepInterval = time.Minute

// Memory is a single-process Cache for development and tests.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]entry
	now       func() time.Time
	lastSweep time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now, lastSweep: time.Now()}
}

// sweep drops expired entries at most once per sweepInterval, including keys
// that are never read again. Must be called with mu held.
func (m *Memory) sweep() {
	now := m.now()
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// lookup must be called with mu held.
func (m *Memory) lookup(k string) (entry, bool) {
	e, ok := m.entries[k]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.entries, k)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, namespace, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(keyFor(namespace, key))
	if !ok {
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, namespace, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	m.entries[keyFor(namespace, key)] = entry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, keyFor(namespace, key))
	return nil
}

func (m *Memory) SetNX(_ context.Context, namespace, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	k := keyFor(namespace, key)
	if _, ok := m.lookup(k); ok {
		return false, nil
	}
	m.entries[k] = entry{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) IncrWithExpire(_ context.Context, namespace, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	k := keyFor(namespace, key)

	e, ok := m.lookup(k)
	if !ok {
		m.entries[k] = entry{value: "1", expiresAt: m.expiry(window)}
		return 1, nil
	}

	cnt, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	cnt++
	e.value = strconv.FormatInt(cnt, 10)
	m.entries[k] = e
	return cnt, nil
}

func (m *Memory) Close() error { return nil }
