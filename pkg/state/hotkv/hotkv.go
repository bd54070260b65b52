// Package hotkv is the low-latency state tier: TTL'd values keyed by the
// tenant-scoped namespace. Backed by Redis in production and by an in-memory
// map in tests.
package hotkv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("hotkv: key not found")

// Store is the hot tier contract. Values are opaque bytes; TTL zero means
// the backend default is applied by the caller, never here.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Keys returns keys matching prefix. Bounded scan; intended for
	// per-tenant listings, not analytics.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}
