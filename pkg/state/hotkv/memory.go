package hotkv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/weftworks/weft/pkg/clock"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is the in-memory hot tier for tests and use-memory mode.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	clock clock.Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		clock: clock.System(),
	}
}

// WithClock overrides the clock for expiry tests.
func (m *MemoryStore) WithClock(c clock.Clock) *MemoryStore {
	m.clock = c
	return m
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.items[key] = entry
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || m.expired(entry) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, entry := range m.items {
		if strings.HasPrefix(k, prefix) && !m.expired(entry) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && m.clock.Now().After(entry.expiresAt)
}
