package frontier

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/ld-frontier/internal/filter"
	"github.com/JakeFAU/ld-frontier/internal/processor"
	"github.com/JakeFAU/ld-frontier/internal/queue"
	"github.com/JakeFAU/ld-frontier/internal/storage/memory"
	"github.com/JakeFAU/ld-frontier/internal/uri"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeResolver map[string]netip.Addr

func (r fakeResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	a, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{a}, nil
}

type brokenStore struct{ *memory.RecordStore }

func (brokenStore) LastCrawl(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("connection refused")
}

type failingOpenFilter struct{ KnownFilter }

func (failingOpenFilter) Open(context.Context) error { return errors.New("boom") }

type countingQueue struct {
	queue.Queue
	closed int
}

func (q *countingQueue) Close() error {
	q.closed++
	return nil
}

type recordingGraph struct {
	mu    sync.Mutex
	calls [][2][]uri.CrawleableURI
}

func (g *recordingGraph) Log(completed, discovered []uri.CrawleableURI) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, [2][]uri.CrawleableURI{completed, discovered})
}

var hosts = fakeResolver{
	"a.example":     netip.MustParseAddr("192.0.2.1"),
	"b.example":     netip.MustParseAddr("192.0.2.2"),
	"c.example":     netip.MustParseAddr("192.0.2.3"),
	"alias.example": netip.MustParseAddr("192.0.2.1"),
}

type fixture struct {
	f     *Frontier
	clock *fakeClock
	graph *recordingGraph
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, recrawl bool, store filter.RecordStore) fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	if store == nil {
		store = memory.NewRecordStore()
	}
	known := filter.NewKnownURIFilter(store, nil, clock, filter.KnownConfig{
		RecrawlEnabled:  recrawl,
		RecrawlInterval: time.Hour,
	}, logger)
	graph := &recordingGraph{}
	f, err := New(context.Background(), Options{
		Queue:     queue.NewPolitenessQueue(clock, 0, logger),
		Known:     known,
		Processor: processor.New(hosts, time.Second),
		Graph:     graph,
		Clock:     clock,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return fixture{f: f, clock: clock, graph: graph, logs: logs}
}

func uris(batch []uri.CrawleableURI) []string {
	out := make([]string, 0, len(batch))
	for _, c := range batch {
		out = append(out, c.URI)
	}
	return out
}

func pairs(raw ...string) []uri.DatePair {
	out := make([]uri.DatePair, 0, len(raw))
	for _, r := range raw {
		out = append(out, uri.DatePair{URI: uri.CrawleableURI{URI: r}})
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}

func TestNewClosesQueueWhenFilterFails(t *testing.T) {
	t.Parallel()

	q := &countingQueue{Queue: queue.NewPlainQueue(&fakeClock{}, 0)}
	_, err := New(context.Background(), Options{
		Queue:     q,
		Known:     failingOpenFilter{},
		Processor: processor.New(hosts, 0),
		Clock:     &fakeClock{},
	})
	require.Error(t, err)
	assert.Equal(t, 1, q.closed)
}

func TestAdmissionOutcomes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()

	cases := []struct {
		raw  string
		want Outcome
	}{
		{"http://a.example/x", Admitted},
		{"ftp://a.example/file", RejectedScheme},
		{"mailto:someone@a.example", RejectedScheme},
		{"http://unknown.example/", Unresolvable},
		{"relative/path", Invalid},
		{"http://[::1", Invalid},
	}
	for _, tc := range cases {
		got := fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: tc.raw}, time.Time{})
		assert.Equal(t, tc.want, got, tc.raw)
	}
	assert.Equal(t, 1, fx.f.PendingCount())
	assert.NotZero(t, fx.logs.FilterMessage("uri not admitted").Len())
}

func TestAdmittedURIIsNormalizedResolvedAndClassified(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	c := uri.CrawleableURI{URI: "http://a.example:80/data/../dump.nt.gz#frag", Data: map[string]any{"source": "seed"}}
	require.Equal(t, Admitted, fx.f.AddNewURI(context.Background(), c, time.Time{}))

	batch := fx.f.NextURIs(context.Background())
	require.Len(t, batch, 1)
	got := batch[0]
	assert.Equal(t, "http://a.example/dump.nt.gz", got.URI)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), got.IP)
	assert.Equal(t, uri.TypeDump, got.Type)
	assert.Equal(t, "seed", got.GetString("source"))
}

func TestDispatchIsPoliteAcrossAliases(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	summary := fx.f.AddNewURIs(ctx, pairs(
		"http://a.example/1",
		"http://alias.example/2",
		"http://b.example/1",
		"http://a.example/3",
	))
	assert.Equal(t, 4, summary[Admitted])

	first := fx.f.NextURIs(ctx)
	assert.Equal(t, []string{"http://a.example/1", "http://b.example/1"}, uris(first))
	assert.Empty(t, fx.f.NextURIs(ctx))
	assert.Equal(t, Stats{Pending: 2, BlockedHosts: 2}, fx.f.Stats())
}

func TestCrawlingDoneReleasesHostsAndRecords(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	fx.f.AddNewURIs(ctx, pairs("http://a.example/1", "http://a.example/2", "http://b.example/1"))

	batch := fx.f.NextURIs(ctx)
	require.Len(t, batch, 2)
	assert.Equal(t, 2, fx.f.BlockedHostCount())

	fx.f.CrawlingDone(ctx, uri.Pairs(fx.clock.Now(), batch...), pairs("http://c.example/new", "http://a.example/1"))

	assert.Zero(t, fx.f.BlockedHostCount())
	next := fx.f.NextURIs(ctx)
	assert.ElementsMatch(t, []string{"http://a.example/2", "http://c.example/new"}, uris(next))

	// Completed URIs are known and stay rejected without recrawling.
	assert.Equal(t, RejectedKnown, fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: "http://b.example/1"}, time.Time{}))
	fx.clock.Advance(365 * 24 * time.Hour)
	assert.Equal(t, RejectedKnown, fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: "http://b.example/1"}, time.Time{}))

	require.Len(t, fx.graph.calls, 1)
	assert.Len(t, fx.graph.calls[0][0], 2)
	assert.Len(t, fx.graph.calls[0][1], 2)
}

func TestCrawlingDoneWithSharedAddressReleasesOnce(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	fx.f.AddNewURIs(ctx, pairs("http://a.example/1"))
	batch := fx.f.NextURIs(ctx)
	require.Len(t, batch, 1)

	alias := batch[0]
	alias.URI = "http://alias.example/other"
	fx.f.CrawlingDone(ctx, uri.Pairs(time.Time{}, batch[0], alias), nil)

	assert.Zero(t, fx.f.BlockedHostCount())
	assert.Zero(t, fx.logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestRecrawlReadmitsCompletedAfterInterval(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true, nil)
	ctx := context.Background()
	require.True(t, fx.f.DoesRecrawling())

	fx.f.AddNewURIs(ctx, pairs("http://a.example/1"))
	batch := fx.f.NextURIs(ctx)
	require.Len(t, batch, 1)

	fx.f.CrawlingDone(ctx, uri.Pairs(fx.clock.Now(), batch...), nil)
	assert.Equal(t, 1, fx.f.PendingCount())
	assert.Empty(t, fx.f.NextURIs(ctx))

	// Rediscovery before the interval is rejected as known.
	assert.Equal(t, RejectedKnown, fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: "http://a.example/1"}, time.Time{}))

	fx.clock.Advance(time.Hour)
	again := fx.f.NextURIs(ctx)
	assert.Equal(t, []string{"http://a.example/1"}, uris(again))
}

func TestRecrawlHonorsDiscoveredDates(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true, nil)
	ctx := context.Background()
	later := fx.clock.Now().Add(10 * time.Minute)
	fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: "http://a.example/later"}, later)
	fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: "http://b.example/now"}, time.Time{})

	assert.Equal(t, []string{"http://b.example/now"}, uris(fx.f.NextURIs(ctx)))
	fx.clock.Advance(10 * time.Minute)
	assert.Equal(t, []string{"http://a.example/later"}, uris(fx.f.NextURIs(ctx)))
}

func TestDatesIgnoredWithoutRecrawl(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	fx.f.AddNewURI(ctx, uri.CrawleableURI{URI: "http://a.example/x"}, fx.clock.Now().Add(time.Hour))
	assert.Len(t, fx.f.NextURIs(ctx), 1)
}

func TestFilterOutageFailsClosed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, &brokenStore{RecordStore: memory.NewRecordStore()})
	ctx := context.Background()

	summary := fx.f.AddNewURIs(ctx, pairs("http://a.example/1", "http://b.example/1", "ftp://c.example/"))
	assert.Equal(t, 2, summary[FilterUnavailable])
	assert.Equal(t, 1, summary[RejectedScheme])
	assert.Equal(t, 3, summary.Total())
	assert.Zero(t, fx.f.PendingCount())
	assert.Equal(t, 2, fx.logs.FilterMessage("known-uri filter unavailable; dropping uri").Len())
}

func TestReleaseStaleHosts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	fx.f.AddNewURIs(ctx, pairs("http://a.example/1", "http://a.example/2"))
	require.Len(t, fx.f.NextURIs(ctx), 1)

	assert.Empty(t, fx.f.ReleaseStaleHosts(0))
	assert.Empty(t, fx.f.ReleaseStaleHosts(time.Minute))

	fx.clock.Advance(2 * time.Minute)
	released := fx.f.ReleaseStaleHosts(time.Minute)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.1")}, released)
	assert.Equal(t, []string{"http://a.example/2"}, uris(fx.f.NextURIs(ctx)))
}

func TestLateCompletionDoesNotFreeRedispatchedHost(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	fx.f.AddNewURIs(ctx, pairs("http://a.example/1", "http://a.example/2", "http://a.example/3"))
	stale := fx.f.NextURIs(ctx)
	require.Len(t, stale, 1)

	fx.clock.Advance(2 * time.Minute)
	require.Len(t, fx.f.ReleaseStaleHosts(time.Minute), 1)
	current := fx.f.NextURIs(ctx)
	require.Len(t, current, 1)

	fx.f.CrawlingDone(ctx, uri.Pairs(fx.clock.Now(), stale...), nil)
	assert.Equal(t, 1, fx.f.BlockedHostCount())
	assert.Empty(t, fx.f.NextURIs(ctx), "host still serves the second dispatch")

	fx.f.CrawlingDone(ctx, uri.Pairs(fx.clock.Now(), current...), nil)
	assert.Equal(t, []string{"http://a.example/3"}, uris(fx.f.NextURIs(ctx)))
}

func TestConcurrentWorkersNeverShareHost(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false, nil)
	ctx := context.Background()
	var seed []uri.DatePair
	for _, h := range []string{"a.example", "b.example", "c.example"} {
		for i := range 20 {
			seed = append(seed, uri.DatePair{URI: uri.CrawleableURI{URI: "http://" + h + "/" + string(rune('a'+i))}})
		}
	}
	require.Equal(t, 60, fx.f.AddNewURIs(ctx, seed)[Admitted])

	var (
		mu       sync.Mutex
		inFlight = map[netip.Addr]bool{}
		done     int
		wg       sync.WaitGroup
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch := fx.f.NextURIs(ctx)
				mu.Lock()
				finished := done == 60
				for _, c := range batch {
					if inFlight[c.IP] {
						t.Errorf("host %s dispatched twice", c.IP)
					}
					inFlight[c.IP] = true
				}
				mu.Unlock()
				if finished {
					return
				}
				if len(batch) == 0 {
					time.Sleep(time.Millisecond)
					continue
				}
				mu.Lock()
				for _, c := range batch {
					delete(inFlight, c.IP)
				}
				done += len(batch)
				mu.Unlock()
				fx.f.CrawlingDone(ctx, uri.Pairs(time.Time{}, batch...), nil)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, fx.f.PendingCount())
	assert.Zero(t, fx.f.BlockedHostCount())
}

func TestWithDomainVariants(t *testing.T) {
	t.Parallel()

	in := pairs("http://a.example/", "http://a.example/x/y", "http://www.b.example/page", "urn:isbn:1", "http://192.0.2.9/z")
	out := withDomainVariants(in)

	require.Len(t, in, 5, "input is not modified")
	require.Len(t, out, 6)
	assert.Equal(t, "http://b.example/", out[5].URI.URI)
	assert.Equal(t, "http://www.b.example/page", out[5].URI.GetString(uri.KeyDiscoveredFrom))
}

func TestCrawlingDoneOffersDomainVariants(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewRecordStore()
	f, err := New(context.Background(), Options{
		Queue:          queue.NewPolitenessQueue(clock, 0, nil),
		Known:          filter.NewKnownURIFilter(store, nil, clock, filter.KnownConfig{}, nil),
		Processor:      processor.New(hosts, time.Second),
		Clock:          clock,
		DomainVariants: true,
	})
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // test cleanup

	f.CrawlingDone(context.Background(), nil, pairs("http://b.example/x/y"))
	assert.Equal(t, 2, f.PendingCount())
	assert.Len(t, f.NextURIs(context.Background()), 1, "both share one host")
}
