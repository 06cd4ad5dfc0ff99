// Package collyfetcher fetches a single URI with gocolly and collects the
// links found in HTML responses.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps the bytes read per response. Zero keeps colly's default.
	MaxBodySize int
}

// Response is the outcome of one fetch.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Links        []string
	RobotsStatus RobotsStatus
	RobotsReason string
}

// ContentType returns the response media type without parameters.
func (r Response) ContentType() string {
	ct := r.Headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Fetcher performs single GETs using a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch GETs rawURL. Non-2xx responses are returned as errors by colly.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector, guard := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Response{}, err
	}
	if guard != nil {
		guard.stamp(&result)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(start time.Time, result *Response, fetchErr *error) (*colly.Collector, *robotsGuard) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var guard *robotsGuard
	if f.cfg.RespectRobots {
		guard = newRobotsGuard(f.transport)
		collector.WithTransport(guard)
	} else {
		collector.WithTransport(f.transport)
	}

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector, guard
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, result *Response, fetchErr *error) {
	seen := make(map[string]struct{})

	hooks.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		if r.Headers != nil {
			result.Headers = r.Headers.Clone()
		}
		result.Body = append([]byte(nil), r.Body...)
		result.Duration = time.Since(start)
	})

	hooks.OnHTML("a[href], link[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		result.Links = append(result.Links, link)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	collector.Context = ctx
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			if errors.Is(err, colly.ErrRobotsTxtBlocked) {
				return ErrRobotsDisallowed
			}
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
