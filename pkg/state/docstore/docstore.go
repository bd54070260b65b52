// Package docstore is the durable state tier: JSON documents keyed by the
// tenant-scoped namespace, no TTL. Production backends are Postgres, SQLite,
// or Mongo; tests use the in-memory store.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a key has no document.
var ErrNotFound = errors.New("docstore: document not found")

// Document is one stored state row.
type Document struct {
	Key       string                 `json:"key"`
	Value     map[string]interface{} `json:"value"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Store is the durable tier contract. Values are JSON documents; List
// matches a key prefix and top-level value fields by equality.
type Store interface {
	Put(ctx context.Context, key string, value map[string]interface{}) error
	Get(ctx context.Context, key string) (map[string]interface{}, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, filter map[string]interface{}, limit int) ([]Document, error)
	Ping(ctx context.Context) error
}

// tenantOf extracts the tenant segment from a `<kind>:<tenant>:<id>` key.
// Backends index on it for tenant-scoped scans and row-level policies.
func tenantOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
