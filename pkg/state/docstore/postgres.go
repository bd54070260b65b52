package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is the durable tier on Postgres: one JSONB row per key,
// tenant column extracted from the key for indexing and row-level policy.
type PostgresStore struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS weft_state (
	key TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	value JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS weft_state_tenant_idx ON weft_state (tenant_id);

ALTER TABLE weft_state ENABLE ROW LEVEL SECURITY;

DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_policies WHERE policyname = 'weft_tenant_isolation'
    ) THEN
        CREATE POLICY weft_tenant_isolation ON weft_state
        USING (tenant_id = current_setting('app.current_tenant', true)::text);
    END IF;
END
$$;
`

const (
	pgPut = `INSERT INTO weft_state (key, tenant_id, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	pgGet    = `SELECT value FROM weft_state WHERE key = $1`
	pgDelete = `DELETE FROM weft_state WHERE key = $1`
	pgList   = `SELECT key, value, updated_at FROM weft_state
		WHERE key LIKE $1 AND ($2::jsonb IS NULL OR value @> $2::jsonb)
		ORDER BY updated_at DESC LIMIT $3`
)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the schema. Call once at startup.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, key string, value map[string]interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("docstore: marshal value for %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, pgPut, key, tenantOf(key), raw, time.Now().UTC())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) (map[string]interface{}, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, pgGet, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value map[string]interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("docstore: unmarshal value for %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, pgDelete, key)
	return err
}

func (s *PostgresStore) List(ctx context.Context, prefix string, filter map[string]interface{}, limit int) ([]Document, error) {
	var filterArg interface{}
	if len(filter) > 0 {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		filterArg = raw
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, pgList, prefix+"%", filterArg, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var doc Document
		var raw []byte
		if err := rows.Scan(&doc.Key, &raw, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &doc.Value); err != nil {
			return nil, fmt.Errorf("docstore: unmarshal value for %q: %w", doc.Key, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
