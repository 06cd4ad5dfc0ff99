// Package postgres provides the Postgres-backed known-URI record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for known-URI records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RecordStore keeps normalized URI -> last crawl time in a Postgres table.
type RecordStore struct {
	cfg   Config
	pool  pool
	table string
}

// NewRecordStore validates cfg. The pool is created by Open.
func NewRecordStore(cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{cfg: cfg, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "known_uris"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Open connects (unless a pool was injected) and creates the table if needed.
func (s *RecordStore) Open(ctx context.Context) error {
	if s.pool == nil {
		poolCfg, err := pgxpool.ParseConfig(s.cfg.DSN)
		if err != nil {
			return fmt.Errorf("parse postgres dsn: %w", err)
		}
		if s.cfg.MaxConns > 0 {
			poolCfg.MaxConns = s.cfg.MaxConns
		}
		if s.cfg.MinConns > 0 {
			poolCfg.MinConns = s.cfg.MinConns
		}
		if s.cfg.MaxConnLifetime > 0 {
			poolCfg.MaxConnLifetime = s.cfg.MaxConnLifetime
		}
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s.pool = p
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	uri TEXT PRIMARY KEY,
	crawled_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// LastCrawl returns the stored completion time for key.
func (s *RecordStore) LastCrawl(ctx context.Context, key string) (time.Time, bool, error) {
	if s.pool == nil {
		return time.Time{}, false, fmt.Errorf("record store is not open")
	}
	var at time.Time
	query := fmt.Sprintf(`SELECT crawled_at FROM %s WHERE uri = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, key).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select known uri: %w", err)
	}
	return at.UTC(), true, nil
}

// Upsert inserts or replaces the completion time for key.
func (s *RecordStore) Upsert(ctx context.Context, key string, at time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("record store is not open")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (uri, crawled_at) VALUES ($1, $2)
ON CONFLICT (uri) DO UPDATE SET crawled_at = EXCLUDED.crawled_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, at); err != nil {
		return fmt.Errorf("upsert known uri: %w", err)
	}
	return nil
}

// ForEach streams every stored key to fn.
func (s *RecordStore) ForEach(ctx context.Context, fn func(key string) error) error {
	if s.pool == nil {
		return fmt.Errorf("record store is not open")
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT uri FROM %s`, s.table))
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
