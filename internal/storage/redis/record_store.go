// Package redis provides a known-URI record store kept in a Redis hash, so
// several frontier restarts (or hosts) can share one record set.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config selects the Redis server and the hash holding the records.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type hashClient interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *goredis.ScanCmd
	Close() error
}

// RecordStore maps normalized URI -> last crawl time (unix nanos) in one hash.
type RecordStore struct {
	cfg    Config
	client hashClient
	key    string
}

// NewRecordStore validates cfg. The client is dialed by Open.
func NewRecordStore(cfg Config) (*RecordStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	return &RecordStore{cfg: cfg, key: cfg.KeyPrefix + "known_uris"}, nil
}

// NewRecordStoreWithClient constructs a store around an existing client (primarily for testing).
func NewRecordStoreWithClient(client hashClient, prefix string) (*RecordStore, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &RecordStore{client: client, key: prefix + "known_uris"}, nil
}

// Open dials Redis (unless a client was injected) and verifies the connection.
func (s *RecordStore) Open(ctx context.Context) error {
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.cfg.Addr,
			Password: s.cfg.Password,
			DB:       s.cfg.DB,
		})
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		s.client = nil
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RecordStore) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// LastCrawl returns the stored completion time for key.
func (s *RecordStore) LastCrawl(ctx context.Context, key string) (time.Time, bool, error) {
	if s.client == nil {
		return time.Time{}, false, fmt.Errorf("record store is not open")
	}
	raw, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("hget known uri: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode crawl time %q: %w", raw, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Upsert stores at as the completion time for key.
func (s *RecordStore) Upsert(ctx context.Context, key string, at time.Time) error {
	if s.client == nil {
		return fmt.Errorf("record store is not open")
	}
	if err := s.client.HSet(ctx, s.key, key, strconv.FormatInt(at.UnixNano(), 10)).Err(); err != nil {
		return fmt.Errorf("hset known uri: %w", err)
	}
	return nil
}

// ForEach walks the hash with HSCAN and calls fn for every field.
func (s *RecordStore) ForEach(ctx context.Context, fn func(key string) error) error {
	if s.client == nil {
		return fmt.Errorf("record store is not open")
	}
	var cursor uint64
	for {
		kv, next, err := s.client.HScan(ctx, s.key, cursor, "", 1000).Result()
		if err != nil {
			return fmt.Errorf("hscan known uris: %w", err)
		}
		// HSCAN replies with field, value pairs.
		for i := 0; i+1 < len(kv); i += 2 {
			if err := fn(kv[i]); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
