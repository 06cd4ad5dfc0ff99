// Package worker is a reference crawl worker. It polls a frontier for
// batches, fetches each URI, stores the raw bytes, and reports completed and
// discovered URIs back in one call per batch.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	collyfetcher "github.com/JakeFAU/ld-frontier/internal/fetcher/colly"
	"github.com/JakeFAU/ld-frontier/internal/metrics"
	"github.com/JakeFAU/ld-frontier/internal/sink"
	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// Frontier is the remote scheduler.
type Frontier interface {
	NextURIs(ctx context.Context) ([]uri.CrawleableURI, error)
	CrawlingDone(ctx context.Context, completed, discovered []uri.DatePair) error
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Response, error)
}

// RawSink persists response bodies. Nil disables storage.
type RawSink interface {
	Store(ctx context.Context, c uri.CrawleableURI, contentType string, body io.Reader, fetchedAt time.Time) (sink.Record, error)
}

// HostLimiter spaces out requests per host. Nil disables it.
type HostLimiter interface {
	Wait(ctx context.Context, key string) error
}

// Publisher announces stored pages. Nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config controls Worker behavior.
type Config struct {
	Concurrency      int
	PollInterval     time.Duration
	MaxPollInterval  time.Duration
	MaxRetries       int
	RetryBackoffBase time.Duration
	ReportTimeout    time.Duration
	Topic            string
}

// Deps are the collaborators of a Worker. Frontier, Fetcher, and Clock are
// required.
type Deps struct {
	Frontier  Frontier
	Fetcher   Fetcher
	Sink      RawSink
	Limiter   HostLimiter
	Publisher Publisher
	Clock     Clock
}

// Worker runs the poll, fetch, and report loop.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Frontier == nil || deps.Fetcher == nil || deps.Clock == nil {
		return nil, errors.New("worker: frontier, fetcher and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = 30 * cfg.PollInterval
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 500 * time.Millisecond
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 30 * time.Second
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}, nil
}

// Run polls until ctx ends. An empty batch or a failed poll backs off
// exponentially up to MaxPollInterval.
func (w *Worker) Run(ctx context.Context) error {
	wait := time.Duration(0)
	for {
		if wait > 0 {
			if err := sleepWithContext(ctx, wait); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		n, err := w.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("poll failed", zap.Error(err), zap.Duration("backoff", wait))
			wait = w.nextWait(wait)
		case n == 0:
			wait = w.nextWait(wait)
		default:
			wait = 0
		}
	}
}

func (w *Worker) nextWait(prev time.Duration) time.Duration {
	if prev <= 0 {
		return w.cfg.PollInterval
	}
	return min(prev*2, w.cfg.MaxPollInterval)
}

// RunOnce fetches one batch and reports it. It returns the batch size.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	batch, err := w.deps.Frontier.NextURIs(ctx)
	if err != nil {
		return 0, fmt.Errorf("next uris: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}
	w.logger.Debug("batch received", zap.Int("uris", len(batch)))

	completed, discovered := w.processBatch(ctx, batch)

	// Hosts stay blocked until reported, so the report outlives ctx.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ReportTimeout)
	defer cancel()
	if err := w.report(reportCtx, completed, discovered); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}

func (w *Worker) processBatch(ctx context.Context, batch []uri.CrawleableURI) ([]uri.DatePair, []uri.DatePair) {
	completed := make([]uri.DatePair, len(batch))
	links := make([][]string, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, c := range batch {
		g.Go(func() error {
			links[i] = w.crawl(gctx, c)
			completed[i] = uri.DatePair{URI: c, Date: w.deps.Clock.Now()}
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var discovered []uri.DatePair
	for i, c := range batch {
		for _, l := range links[i] {
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			d, err := uri.New(l)
			if err != nil {
				continue
			}
			discovered = append(discovered, uri.DatePair{URI: d.WithData(uri.KeyDiscoveredFrom, c.URI)})
		}
	}
	return completed, discovered
}

// crawl fetches c with retries and stores the body. Failures are logged; the
// URI still counts as completed so its host is released.
func (w *Worker) crawl(ctx context.Context, c uri.CrawleableURI) []string {
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, c.Host()); err != nil {
			metrics.ObserveWorkerFetch("canceled")
			return nil
		}
	}

	resp, err := w.fetchWithRetry(ctx, c)
	if err != nil {
		result := "error"
		if errors.Is(err, collyfetcher.ErrRobotsDisallowed) {
			result = "robots_disallowed"
		}
		metrics.ObserveWorkerFetch(result)
		w.logger.Warn("fetch failed", zap.String("uri", c.URI), zap.Error(err))
		return nil
	}
	metrics.ObserveWorkerFetch("ok")

	if w.deps.Sink != nil {
		rec, err := w.deps.Sink.Store(ctx, c, resp.ContentType(), bytes.NewReader(resp.Body), w.deps.Clock.Now())
		if err != nil {
			w.logger.Error("storing raw data failed", zap.String("uri", c.URI), zap.Error(err))
		} else {
			w.publish(ctx, c, rec, resp.StatusCode)
		}
	}
	return resp.Links
}

func (w *Worker) fetchWithRetry(ctx context.Context, c uri.CrawleableURI) (collyfetcher.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.cfg.RetryBackoffBase * time.Duration(1<<(attempt-1))
			if err := sleepWithContext(ctx, delay); err != nil {
				return collyfetcher.Response{}, err
			}
		}
		resp, err := w.deps.Fetcher.Fetch(ctx, c.URI)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, collyfetcher.ErrRobotsDisallowed) || ctx.Err() != nil {
			break
		}
		w.logger.Debug("fetch attempt failed", zap.String("uri", c.URI), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return collyfetcher.Response{}, lastErr
}

func (w *Worker) publish(ctx context.Context, c uri.CrawleableURI, rec sink.Record, status int) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"uri":          c.URI,
		"type":         c.Type,
		"location":     rec.Location,
		"content_type": rec.ContentType,
		"size":         rec.Size,
		"status":       status,
		"fetched_at":   rec.FetchedAt.Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload, map[string]string{"uri_type": string(c.Type)}); err != nil {
		w.logger.Warn("publish failed", zap.String("uri", c.URI), zap.Error(err))
	}
}

func (w *Worker) report(ctx context.Context, completed, discovered []uri.DatePair) error {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if serr := sleepWithContext(ctx, w.cfg.RetryBackoffBase*time.Duration(1<<(attempt-1))); serr != nil {
				break
			}
		}
		if err = w.deps.Frontier.CrawlingDone(ctx, completed, discovered); err == nil {
			w.logger.Debug("batch reported", zap.Int("completed", len(completed)), zap.Int("discovered", len(discovered)))
			return nil
		}
		w.logger.Warn("reporting batch failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("crawling done: %w", err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
