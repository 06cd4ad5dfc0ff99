// Package sink persists the raw bytes fetched for a URI. Objects are keyed by
// the SHA-256 of the normalized URI, so every component that normalizes the
// same way finds the same object.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/uri"
	"github.com/JakeFAU/ld-frontier/internal/uri/norm"
)

// BlobStore writes one object and returns its location.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// Keyer hashes a URI string into a hex key.
type Keyer interface {
	Key(s string) string
}

// Record describes one stored payload. It is written as a JSON sidecar next
// to the raw object.
type Record struct {
	URI         uri.CrawleableURI `json:"uri"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	FetchedAt   time.Time         `json:"fetched_at"`
	Location    string            `json:"location"`
}

// RawSink stores response bodies in a BlobStore.
type RawSink struct {
	store  BlobStore
	keys   Keyer
	norm   *norm.Normalizer
	logger *zap.Logger
}

// New creates a RawSink.
func New(store BlobStore, keys Keyer, logger *zap.Logger) (*RawSink, error) {
	if store == nil || keys == nil {
		return nil, errors.New("sink: blob store and keyer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RawSink{store: store, keys: keys, norm: norm.New(logger), logger: logger.Named("sink")}, nil
}

// Key returns the object key for c: two hex characters of fan-out followed by
// the full digest.
func (s *RawSink) Key(c uri.CrawleableURI) string {
	h := s.keys.Key(s.norm.Key(c))
	return h[:2] + "/" + h
}

// Store writes body for c, then its metadata sidecar at Key(c)+".json".
func (s *RawSink) Store(ctx context.Context, c uri.CrawleableURI, contentType string, body io.Reader, fetchedAt time.Time) (Record, error) {
	key := s.Key(c)
	counter := &countingReader{r: body}
	location, err := s.store.PutObject(ctx, key, contentType, counter)
	if err != nil {
		return Record{}, fmt.Errorf("store raw data for %s: %w", c.URI, err)
	}

	rec := Record{
		URI:         c,
		ContentType: contentType,
		Size:        counter.n,
		FetchedAt:   fetchedAt.UTC(),
		Location:    location,
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode metadata for %s: %w", c.URI, err)
	}
	if _, err := s.store.PutObject(ctx, key+".json", "application/json", bytes.NewReader(meta)); err != nil {
		return Record{}, fmt.Errorf("store metadata for %s: %w", c.URI, err)
	}
	s.logger.Debug("raw data stored",
		zap.String("uri", c.URI),
		zap.String("location", location),
		zap.Int64("bytes", rec.Size),
	)
	return rec, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
