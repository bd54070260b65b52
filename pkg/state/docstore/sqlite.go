package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable tier on SQLite, for the dev/embedded profile.
// Filters are applied in Go after the prefix scan; the embedded profile
// never holds enough rows for that to matter.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS weft_state (
        key TEXT PRIMARY KEY,
        tenant_id TEXT NOT NULL,
        value JSON NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS weft_state_tenant_idx ON weft_state (tenant_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value map[string]interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("docstore: marshal value for %q: %w", key, err)
	}
	query := `INSERT INTO weft_state (key, tenant_id, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, key, tenantOf(key), string(raw), time.Now().UTC())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (map[string]interface{}, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM weft_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("docstore: unmarshal value for %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM weft_state WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, prefix string, filter map[string]interface{}, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM weft_state WHERE key LIKE ? ORDER BY updated_at DESC`,
		prefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	normalizedFilter, err := normalize(filter)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for rows.Next() {
		var doc Document
		var raw string
		if err := rows.Scan(&doc.Key, &raw, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &doc.Value); err != nil {
			return nil, fmt.Errorf("docstore: unmarshal value for %q: %w", doc.Key, err)
		}
		if !matches(doc.Value, normalizedFilter) {
			continue
		}
		docs = append(docs, doc)
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
