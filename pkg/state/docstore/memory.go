package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/weftworks/weft/pkg/clock"
)

// MemoryStore is the in-memory durable tier for tests and use-memory mode.
// Values are normalized through JSON on Put so filter matching behaves the
// same as the SQL and Mongo backends (numbers become float64 and so on).
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	clock clock.Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]Document),
		clock: clock.System(),
	}
}

// WithClock overrides the clock for tests.
func (m *MemoryStore) WithClock(c clock.Clock) *MemoryStore {
	m.clock = c
	return m
}

func (m *MemoryStore) Put(_ context.Context, key string, value map[string]interface{}) error {
	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("docstore: normalize value for %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = Document{Key: key, Value: normalized, UpdatedAt: m.clock.Now()}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (map[string]interface{}, error) {
	m.mu.RLock()
	doc, ok := m.docs[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	copied, err := normalize(doc.Value)
	if err != nil {
		return nil, err
	}
	return copied, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string, filter map[string]interface{}, limit int) ([]Document, error) {
	normalizedFilter, err := normalize(filter)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	var out []Document
	for key, doc := range m.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !matches(doc.Value, normalizedFilter) {
			continue
		}
		out = append(out, doc)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func normalize(value map[string]interface{}) (map[string]interface{}, error) {
	if value == nil {
		return nil, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(value, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := value[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
