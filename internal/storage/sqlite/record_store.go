// Package sqlite provides an embedded, file-backed known-URI record store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the database file created inside the configured directory.
const FileName = "known_uris.db"

// RecordStore keeps normalized URI -> last crawl time in a SQLite file.
type RecordStore struct {
	dir string
	db  *sql.DB
}

// NewRecordStore prepares a store rooted at dir. Open creates the file.
func NewRecordStore(dir string) (*RecordStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite.dir is required")
	}
	return &RecordStore{dir: dir}, nil
}

// Open creates the directory and database if needed, enables WAL, and
// creates the schema. A failed Open leaves nothing open.
func (s *RecordStore) Open(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(s.dir, FileName)+"?mode=rwc")
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS known_uris (
		uri TEXT PRIMARY KEY,
		crawled_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return fmt.Errorf("create tables: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// LastCrawl returns the stored completion time for key.
func (s *RecordStore) LastCrawl(ctx context.Context, key string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, fmt.Errorf("record store is not open")
	}
	var nanos int64
	err := s.db.QueryRowContext(ctx, `SELECT crawled_at FROM known_uris WHERE uri = ?`, key).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select known uri: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Upsert inserts or replaces the completion time for key.
func (s *RecordStore) Upsert(ctx context.Context, key string, at time.Time) error {
	if s.db == nil {
		return fmt.Errorf("record store is not open")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO known_uris (uri, crawled_at) VALUES (?, ?)
	ON CONFLICT(uri) DO UPDATE SET crawled_at = excluded.crawled_at`, key, at.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert known uri: %w", err)
	}
	return nil
}

// ForEach streams every stored key to fn.
func (s *RecordStore) ForEach(ctx context.Context, fn func(key string) error) error {
	if s.db == nil {
		return fmt.Errorf("record store is not open")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT uri FROM known_uris`)
	if err != nil {
		return fmt.Errorf("scan known uris: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("read known uri: %w", err)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate known uris: %w", err)
	}
	return nil
}
