package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/ld-frontier/internal/fetcher/colly"
	"github.com/JakeFAU/ld-frontier/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/ld-frontier/internal/publisher/memory"
	"github.com/JakeFAU/ld-frontier/internal/sink"
	"github.com/JakeFAU/ld-frontier/internal/storage/memory"
	"github.com/JakeFAU/ld-frontier/internal/uri"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeFrontier struct {
	mu         sync.Mutex
	batches    [][]uri.CrawleableURI
	nextErr    error
	doneErrs   []error
	completed  [][]uri.DatePair
	discovered [][]uri.DatePair
	doneCtxErr error
	polls      int
}

func (f *fakeFrontier) NextURIs(context.Context) ([]uri.CrawleableURI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeFrontier) CrawlingDone(ctx context.Context, completed, discovered []uri.DatePair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doneCtxErr = ctx.Err()
	if len(f.doneErrs) > 0 {
		err := f.doneErrs[0]
		f.doneErrs = f.doneErrs[1:]
		if err != nil {
			return err
		}
	}
	f.completed = append(f.completed, completed)
	f.discovered = append(f.discovered, discovered)
	return nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	attempts map[string]int
	fails    map[string]int
	errs     map[string]error
	pages    map[string]collyfetcher.Response
}

func (f *fakeFetcher) Fetch(_ context.Context, raw string) (collyfetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[raw]++
	if err, ok := f.errs[raw]; ok {
		return collyfetcher.Response{}, err
	}
	if f.attempts[raw] <= f.fails[raw] {
		return collyfetcher.Response{}, errors.New("transient error")
	}
	return f.pages[raw], nil
}

func htmlPage(links ...string) collyfetcher.Response {
	return collyfetcher.Response{
		StatusCode: 200,
		Headers:    map[string][]string{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte("<html></html>"),
		Links:      links,
	}
}

func newWorker(t *testing.T, f *fakeFrontier, fetcher *fakeFetcher, cfg Config, extra func(*Deps)) *Worker {
	t.Helper()
	deps := Deps{Frontier: f, Fetcher: fetcher, Clock: fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}}
	if extra != nil {
		extra(&deps)
	}
	if cfg.RetryBackoffBase == 0 {
		cfg.RetryBackoffBase = time.Millisecond
	}
	w, err := New(deps, cfg, nil)
	require.NoError(t, err)
	return w
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestRunOnceReportsCompletedAndDiscovered(t *testing.T) {
	t.Parallel()

	a := uri.MustNew("http://a.example/")
	b := uri.MustNew("http://b.example/")
	f := &fakeFrontier{batches: [][]uri.CrawleableURI{{a, b}}}
	fetcher := &fakeFetcher{pages: map[string]collyfetcher.Response{
		a.URI: htmlPage("http://a.example/1", "http://c.example/", "mailto:x@a.example"),
		b.URI: htmlPage("http://c.example/", "::bad"),
	}}
	w := newWorker(t, f, fetcher, Config{}, nil)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, f.completed, 1)
	assert.Equal(t, []uri.CrawleableURI{a, b}, uri.URIs(f.completed[0]))
	for _, p := range f.completed[0] {
		assert.False(t, p.Date.IsZero())
	}

	got := map[string]string{}
	for _, p := range f.discovered[0] {
		got[p.URI.URI] = p.URI.GetString(uri.KeyDiscoveredFrom)
	}
	assert.Equal(t, map[string]string{
		"http://a.example/1": a.URI,
		"http://c.example/":  a.URI,
		"mailto:x@a.example": a.URI,
	}, got)
}

func TestRunOnceEmptyBatch(t *testing.T) {
	t.Parallel()

	f := &fakeFrontier{}
	w := newWorker(t, f, &fakeFetcher{}, Config{}, nil)
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.completed)
}

func TestFetchRetries(t *testing.T) {
	t.Parallel()

	ok := uri.MustNew("http://ok.example/")
	flaky := uri.MustNew("http://flaky.example/")
	dead := uri.MustNew("http://dead.example/")
	blocked := uri.MustNew("http://blocked.example/")
	f := &fakeFrontier{batches: [][]uri.CrawleableURI{{ok, flaky, dead, blocked}}}
	fetcher := &fakeFetcher{
		fails: map[string]int{flaky.URI: 2, dead.URI: 10},
		errs:  map[string]error{blocked.URI: collyfetcher.ErrRobotsDisallowed},
		pages: map[string]collyfetcher.Response{
			ok.URI:    htmlPage(),
			flaky.URI: htmlPage("http://flaky.example/next"),
		},
	}
	w := newWorker(t, f, fetcher, Config{MaxRetries: 3}, nil)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.attempts[ok.URI])
	assert.Equal(t, 3, fetcher.attempts[flaky.URI])
	assert.Equal(t, 4, fetcher.attempts[dead.URI])
	assert.Equal(t, 1, fetcher.attempts[blocked.URI])

	// Every dispatched URI is reported so its host is released.
	require.Len(t, f.completed, 1)
	assert.Len(t, f.completed[0], 4)
	require.Len(t, f.discovered[0], 1)
	assert.Equal(t, "http://flaky.example/next", f.discovered[0][0].URI.URI)
}

func TestReportRetriesAndOutlivesCancel(t *testing.T) {
	t.Parallel()

	a := uri.MustNew("http://a.example/")
	f := &fakeFrontier{
		batches:  [][]uri.CrawleableURI{{a}},
		doneErrs: []error{errors.New("503"), nil},
	}
	fetcher := &fakeFetcher{pages: map[string]collyfetcher.Response{a.URI: htmlPage()}}
	w := newWorker(t, f, fetcher, Config{MaxRetries: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n, err := w.RunOnce(ctx)
	cancel()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.completed, 1)
	assert.NoError(t, f.doneCtxErr)
}

func TestReportGivesUp(t *testing.T) {
	t.Parallel()

	a := uri.MustNew("http://a.example/")
	f := &fakeFrontier{
		batches:  [][]uri.CrawleableURI{{a}},
		doneErrs: []error{errors.New("down"), errors.New("down")},
	}
	w := newWorker(t, f, &fakeFetcher{pages: map[string]collyfetcher.Response{a.URI: htmlPage()}}, Config{MaxRetries: 1}, nil)
	_, err := w.RunOnce(context.Background())
	require.ErrorContains(t, err, "down")
}

func TestStoresAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	raw, err := sink.New(blobs, sha256.New(), nil)
	require.NoError(t, err)
	pub := pubmemory.New()

	a := uri.MustNew("http://a.example/")
	a.Type = uri.TypeDereferenceable
	f := &fakeFrontier{batches: [][]uri.CrawleableURI{{a}}}
	fetcher := &fakeFetcher{pages: map[string]collyfetcher.Response{a.URI: htmlPage()}}
	w := newWorker(t, f, fetcher, Config{Topic: "crawled"}, func(d *Deps) {
		d.Sink = raw
		d.Publisher = pub
	})

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	blob, ok := blobs.Get(raw.Key(a))
	require.True(t, ok)
	assert.Equal(t, "<html></html>", string(blob.Data))
	assert.Equal(t, "text/html", blob.ContentType)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawled", msgs[0].Topic)
	assert.Equal(t, "DEREFERENCEABLE", msgs[0].Attributes["uri_type"])
	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	assert.Equal(t, a.URI, payload["uri"])
	assert.Equal(t, "memory://"+raw.Key(a), payload["location"])
}

func TestRunBacksOffAndStops(t *testing.T) {
	t.Parallel()

	f := &fakeFrontier{nextErr: errors.New("connection refused")}
	w := newWorker(t, f, &fakeFetcher{}, Config{PollInterval: time.Millisecond, MaxPollInterval: 4 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Greater(t, f.polls, 1)
	assert.Less(t, f.polls, 50)
}

func TestNextWait(t *testing.T) {
	t.Parallel()

	w := newWorker(t, &fakeFrontier{}, &fakeFetcher{}, Config{PollInterval: time.Second, MaxPollInterval: 5 * time.Second}, nil)
	assert.Equal(t, time.Second, w.nextWait(0))
	assert.Equal(t, 2*time.Second, w.nextWait(time.Second))
	assert.Equal(t, 5*time.Second, w.nextWait(4*time.Second))
}
