package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/uri"
	"github.com/JakeFAU/ld-frontier/internal/uri/norm"
)

// DefaultRecrawlInterval is used when recrawling is enabled without an interval.
const DefaultRecrawlInterval = 7 * 24 * time.Hour

// ErrFilterUnavailable wraps every backing-store failure surfaced by the filter.
var ErrFilterUnavailable = errors.New("known-uri filter unavailable")

// RecordStore persists normalized URI -> last crawl completion time.
type RecordStore interface {
	Open(ctx context.Context) error
	LastCrawl(ctx context.Context, key string) (time.Time, bool, error)
	Upsert(ctx context.Context, key string, at time.Time) error
	Close() error
}

// Scanner is implemented by stores able to enumerate their keys.
type Scanner interface {
	ForEach(ctx context.Context, fn func(key string) error) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// KnownConfig tunes a KnownURIFilter.
type KnownConfig struct {
	RecrawlEnabled  bool
	RecrawlInterval time.Duration
	// BloomCapacity of 0 disables the bloom fast path.
	BloomCapacity uint
	BloomFPRate   float64
}

// KnownURIFilter answers whether a URI may be crawled now.
type KnownURIFilter struct {
	store  RecordStore
	norm   *norm.Normalizer
	clock  Clock
	cfg    KnownConfig
	logger *zap.Logger

	mu    sync.Mutex
	bloom *bloom.BloomFilter
}

// NewKnownURIFilter wires a filter around store. It does not open the store.
func NewKnownURIFilter(store RecordStore, normalizer *norm.Normalizer, clock Clock, cfg KnownConfig, logger *zap.Logger) *KnownURIFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = norm.New(logger)
	}
	if cfg.RecrawlEnabled && cfg.RecrawlInterval <= 0 {
		cfg.RecrawlInterval = DefaultRecrawlInterval
	}
	if cfg.BloomFPRate <= 0 || cfg.BloomFPRate >= 1 {
		cfg.BloomFPRate = 0.001
	}
	return &KnownURIFilter{
		store:  store,
		norm:   normalizer,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("known_filter"),
	}
}

// Open acquires the backing store and warms the bloom filter when possible.
// On failure the store is closed again.
func (f *KnownURIFilter) Open(ctx context.Context) (err error) {
	if err := f.store.Open(ctx); err != nil {
		return fmt.Errorf("%w: open store: %w", ErrFilterUnavailable, err)
	}
	defer func() {
		if err != nil {
			if cerr := f.store.Close(); cerr != nil {
				f.logger.Error("close record store after failed open", zap.Error(cerr))
			}
		}
	}()

	scanner, ok := f.store.(Scanner)
	if !ok || f.cfg.BloomCapacity == 0 {
		return nil
	}
	bf := bloom.NewWithEstimates(f.cfg.BloomCapacity, f.cfg.BloomFPRate)
	loaded := 0
	if err := scanner.ForEach(ctx, func(key string) error {
		bf.AddString(key)
		loaded++
		return nil
	}); err != nil {
		return fmt.Errorf("%w: warm bloom filter: %w", ErrFilterUnavailable, err)
	}
	f.mu.Lock()
	f.bloom = bf
	f.mu.Unlock()
	f.logger.Info("bloom filter warmed", zap.Int("keys", loaded))
	return nil
}

// Close releases the backing store.
func (f *KnownURIFilter) Close() error {
	if err := f.store.Close(); err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	return nil
}

// DoesRecrawling reports whether records expire.
func (f *KnownURIFilter) DoesRecrawling() bool {
	return f.cfg.RecrawlEnabled
}

// RecrawlInterval is the minimum age of a record before its URI is eligible again.
func (f *KnownURIFilter) RecrawlInterval() time.Duration {
	return f.cfg.RecrawlInterval
}

// IsEligible reports whether c has no record, or (when recrawling) a record at
// least one recrawl interval old. Store failures wrap ErrFilterUnavailable.
func (f *KnownURIFilter) IsEligible(ctx context.Context, c uri.CrawleableURI) (bool, error) {
	key := f.norm.Key(c)
	if f.definitelyUnknown(key) {
		return true, nil
	}
	last, found, err := f.store.LastCrawl(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: lookup %q: %w", ErrFilterUnavailable, key, err)
	}
	if !found {
		return true, nil
	}
	if !f.cfg.RecrawlEnabled {
		return false, nil
	}
	return f.clock.Now().Sub(last) >= f.cfg.RecrawlInterval, nil
}

// RecordCompletion upserts the completion time for c.
func (f *KnownURIFilter) RecordCompletion(ctx context.Context, c uri.CrawleableURI, at time.Time) error {
	key := f.norm.Key(c)
	if err := f.store.Upsert(ctx, key, at.UTC()); err != nil {
		return fmt.Errorf("%w: upsert %q: %w", ErrFilterUnavailable, key, err)
	}
	f.mu.Lock()
	if f.bloom != nil {
		f.bloom.AddString(key)
	}
	f.mu.Unlock()
	return nil
}

func (f *KnownURIFilter) definitelyUnknown(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bloom != nil && !f.bloom.TestString(key)
}
