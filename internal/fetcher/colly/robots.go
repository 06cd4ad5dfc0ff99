package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/ld-frontier/internal/metrics"
)

// RobotsStatus tells how robots.txt was honored for a fetch.
type RobotsStatus string

const (
	// RobotsStatusRead means robots.txt was read normally, or not consulted.
	RobotsStatusRead RobotsStatus = ""
	// RobotsStatusAssumedAllow means robots.txt never answered and the fetch
	// went ahead as if it allowed everything.
	RobotsStatusAssumedAllow RobotsStatus = "assumed_allow"
)

// ErrRobotsDisallowed is returned when robots.txt forbids the fetch.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsBackoff is the wait before each retry of a timed-out robots.txt.
var robotsBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsGuard sits under the collector. Requests for /robots.txt that keep
// timing out are answered with an allow-all file; every other request goes
// straight to next.
type robotsGuard struct {
	next    http.RoundTripper
	backoff []time.Duration

	mu     sync.Mutex
	reason string
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{next: next, backoff: robotsBackoff}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return g.next.RoundTrip(req) //nolint:wrapcheck // transparent transport
	}

	attempts := 0
	for {
		attempts++
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !timedOut(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempts > len(g.backoff) {
			break
		}
		if err := waitBackoff(req.Context(), g.backoff[attempts-1]); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	g.reason = fmt.Sprintf("robots.txt timed out %d times", attempts)
	g.mu.Unlock()
	metrics.ObserveWorkerFetch("robots_assumed_allow")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}, nil
}

// stamp copies the robots outcome onto resp.
func (g *robotsGuard) stamp(resp *Response) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reason == "" {
		return
	}
	resp.RobotsStatus = RobotsStatusAssumedAllow
	resp.RobotsReason = g.reason
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
