package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/consentgate/consent"
)

// Schema for the consent_records table. Applied by NewSQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS consent_records (
	storage_key TEXT PRIMARY KEY,
	version TEXT NOT NULL DEFAULT '',
	choices TEXT NOT NULL DEFAULT '{}',
	timestamp INTEGER NOT NULL DEFAULT 0
);
`

// SQLite persists one record per storage key in a consent_records table.
// Open it with the modernc "sqlite" driver (blank-import modernc.org/sqlite).
type SQLite struct {
	db  *sql.DB
	key string
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithStorageKey overrides the storage key. Default: DefaultKey.
func WithStorageKey(key string) SQLiteOption {
	return func(s *SQLite) { s.key = key }
}

// NewSQLite wraps an open database connection and applies the schema.
func NewSQLite(db *sql.DB, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{db: db, key: DefaultKey}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (creating parent directories) a SQLite database at path
// with WAL and busy-timeout pragmas, and returns a store over it. The caller
// owns closing the returned *sql.DB.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, *sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("store: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s, err := NewSQLite(db, opts...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// Load reads the record for the storage key. A missing row or malformed
// choices column loads as the empty record.
func (s *SQLite) Load(ctx context.Context) (consent.Record, error) {
	var version, choicesJSON string
	var timestamp int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version, choices, timestamp FROM consent_records WHERE storage_key = ?`,
		s.key).Scan(&version, &choicesJSON, &timestamp)
	if err == sql.ErrNoRows {
		return consent.EmptyRecord(), nil
	}
	if err != nil {
		return consent.EmptyRecord(), fmt.Errorf("store: load: %w", err)
	}

	var choices map[string]consent.Choice
	if err := json.Unmarshal([]byte(choicesJSON), &choices); err != nil {
		return consent.EmptyRecord(), nil
	}
	rec := consent.Record{Version: version, Choices: choices, Timestamp: timestamp}
	sanitizeRecord(&rec)
	return rec, nil
}

// Save upserts the record under the storage key.
func (s *SQLite) Save(ctx context.Context, rec consent.Record) error {
	choices, err := json.Marshal(rec.Choices)
	if err != nil {
		return fmt.Errorf("store: marshal choices: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent_records (storage_key, version, choices, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(storage_key) DO UPDATE SET
			version = excluded.version,
			choices = excluded.choices,
			timestamp = excluded.timestamp`,
		s.key, rec.Version, string(choices), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Clear deletes the record row.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM consent_records WHERE storage_key = ?`, s.key); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}
