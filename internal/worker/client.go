package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/ld-frontier/internal/api"
	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// ErrRateLimited is returned when the frontier answers 429.
var ErrRateLimited = errors.New("rate limited by frontier")

// ClientConfig configures the frontier HTTP client.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	WorkerID string
	Timeout  time.Duration
}

// Client speaks the worker protocol to a frontier over HTTP/JSON.
type Client struct {
	base   string
	apiKey string
	id     string
	http   *http.Client
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("frontier base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		id:     cfg.WorkerID,
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// NextURIs asks the frontier for a dispatch batch.
func (c *Client) NextURIs(ctx context.Context) ([]uri.CrawleableURI, error) {
	var resp api.NextResponse
	if err := c.do(ctx, http.MethodPost, "/v1/uris/next", struct{}{}, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.URIs, nil
}

// CrawlingDone reports completed and discovered URIs.
func (c *Client) CrawlingDone(ctx context.Context, completed, discovered []uri.DatePair) error {
	body := struct {
		Completed  []uri.DatePair `json:"completed"`
		Discovered []uri.DatePair `json:"discovered"`
	}{Completed: completed, Discovered: discovered}
	return c.do(ctx, http.MethodPost, "/v1/crawling-done", body, http.StatusAccepted, nil)
}

// AddURIs offers URIs for admission and returns the outcome counts.
func (c *Client) AddURIs(ctx context.Context, pairs []uri.DatePair) (api.AddURIsResponse, error) {
	body := struct {
		URIs []uri.DatePair `json:"uris"`
	}{URIs: pairs}
	var resp api.AddURIsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/uris", body, http.StatusAccepted, &resp); err != nil {
		return api.AddURIsResponse{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.id != "" {
		req.Header.Set("X-Worker-ID", c.id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrRateLimited
	}
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
