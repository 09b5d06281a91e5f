package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps each collection in its own table with the full document
// stored as JSON next to the indexed columns.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// EnsureCollection creates the collection table and its timestamp index.
// An index that already exists is not an error.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		runner_id INTEGER NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		received_at_ms INTEGER NOT NULL,
		doc TEXT NOT NULL
	)`, collection)
	if _, err := s.sqlDB.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX %q ON %q (timestamp_ms)`, timestampIndexName(collection), collection)
	if _, err := s.sqlDB.ExecContext(ctx, createIndex); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create timestamp index on %s: %w", collection, err)
	}

	return nil
}

// Insert writes one document row.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc Document) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}

	body, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %q (id, runner_id, timestamp_ms, received_at_ms, doc) VALUES (?, ?, ?, ?, ?)`, collection)
	if _, err := s.sqlDB.ExecContext(ctx, query,
		doc.ID,
		doc.Sample.RunnerID,
		doc.Sample.TimestampMs,
		doc.ReceivedAtMs,
		string(body),
	); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}

	return nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func timestampIndexName(collection string) string {
	return "idx_" + collection + "_timestamp_ms"
}
