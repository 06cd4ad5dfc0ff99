// Package memory provides in-process known-URI records and raw-data blobs
// for development and tests.
package memory

import (
	"context"
	"sync"
	"time"
)

// RecordStore keeps known-URI records in a map. Records do not survive a restart.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]time.Time
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]time.Time)}
}

// Open is a no-op.
func (s *RecordStore) Open(context.Context) error { return nil }

// Close is a no-op; records stay readable.
func (s *RecordStore) Close() error { return nil }

// LastCrawl returns the completion time stored for key.
func (s *RecordStore) LastCrawl(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.records[key]
	return at, ok, nil
}

// Upsert records at as the latest completion time for key.
func (s *RecordStore) Upsert(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = at
	return nil
}

// ForEach calls fn for every stored key.
func (s *RecordStore) ForEach(ctx context.Context, fn func(key string) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
