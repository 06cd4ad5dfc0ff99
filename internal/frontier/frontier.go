package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/filter"
	"github.com/JakeFAU/ld-frontier/internal/metrics"
	"github.com/JakeFAU/ld-frontier/internal/processor"
	"github.com/JakeFAU/ld-frontier/internal/queue"
	"github.com/JakeFAU/ld-frontier/internal/telemetry"
	"github.com/JakeFAU/ld-frontier/internal/uri"
	"github.com/JakeFAU/ld-frontier/internal/uri/norm"
)

// KnownFilter answers whether a URI may be crawled now and records completions.
type KnownFilter interface {
	Open(ctx context.Context) error
	Close() error
	IsEligible(ctx context.Context, c uri.CrawleableURI) (bool, error)
	RecordCompletion(ctx context.Context, c uri.CrawleableURI, at time.Time) error
	DoesRecrawling() bool
	RecrawlInterval() time.Duration
}

// SchemeFilter accepts or rejects a URI by scheme.
type SchemeFilter interface {
	IsAcceptable(c uri.CrawleableURI) bool
}

// Processor resolves and classifies a URI.
type Processor interface {
	Process(ctx context.Context, c uri.CrawleableURI) (uri.CrawleableURI, error)
}

// GraphLogger records completed/discovered provenance. It must not block.
type GraphLogger interface {
	Log(completed, discovered []uri.CrawleableURI)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type staleReleaser interface {
	ReleaseStale(olderThan time.Duration) []netip.Addr
	ReleaseFor(c uri.CrawleableURI) (released, late bool)
}

// Options wires a Frontier. Queue, Known, Processor, and Clock are required.
type Options struct {
	Queue      queue.Queue
	Known      KnownFilter
	Schemes    SchemeFilter
	Processor  Processor
	Normalizer *norm.Normalizer
	Graph      GraphLogger
	Clock      Clock
	Logger     *zap.Logger
	// DomainVariants also offers the registrable-domain root of every
	// discovered URI, e.g. http://example.org/ for http://a.example.org/x.
	DomainVariants bool
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Pending      int  `json:"pending"`
	BlockedHosts int  `json:"blocked_hosts"`
	Recrawling   bool `json:"recrawling"`
}

// Frontier is safe for concurrent use.
type Frontier struct {
	queue   queue.Queue
	hosts   queue.HostAware
	known   KnownFilter
	schemes SchemeFilter
	proc    Processor
	norm    *norm.Normalizer
	graph   GraphLogger
	domains bool
	clock   Clock
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New opens the known-URI filter and returns a ready Frontier. If opening
// fails, the queue is closed before returning.
func New(ctx context.Context, opts Options) (*Frontier, error) {
	if opts.Queue == nil || opts.Known == nil || opts.Processor == nil || opts.Clock == nil {
		return nil, errors.New("frontier: queue, known filter, processor and clock are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Schemes == nil {
		opts.Schemes = filter.NewSchemeFilter(nil)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = norm.New(logger)
	}
	if err := opts.Known.Open(ctx); err != nil {
		if cerr := opts.Queue.Close(); cerr != nil {
			logger.Error("close queue after failed filter open", zap.Error(cerr))
		}
		return nil, fmt.Errorf("open known-uri filter: %w", err)
	}
	f := &Frontier{
		queue:   opts.Queue,
		known:   opts.Known,
		schemes: opts.Schemes,
		proc:    opts.Processor,
		norm:    opts.Normalizer,
		graph:   opts.Graph,
		domains: opts.DomainVariants,
		clock:   opts.Clock,
		logger:  logger.Named("frontier"),
		tracer:  telemetry.Tracer(),
	}
	if h, ok := opts.Queue.(queue.HostAware); ok {
		f.hosts = h
	}
	return f, nil
}

// Close releases the queue and the known-URI filter.
func (f *Frontier) Close() error {
	return errors.Join(f.queue.Close(), f.known.Close())
}

// DoesRecrawling reports whether completed URIs are scheduled again.
func (f *Frontier) DoesRecrawling() bool {
	return f.known.DoesRecrawling()
}

// Stats returns queue sizes and the recrawl mode.
func (f *Frontier) Stats() Stats {
	s := Stats{Pending: f.queue.PendingCount(), Recrawling: f.DoesRecrawling()}
	if f.hosts != nil {
		s.BlockedHosts = f.hosts.BlockedHostCount()
	}
	return s
}

// PendingCount returns the number of admitted, undispatched URIs.
func (f *Frontier) PendingCount() int { return f.queue.PendingCount() }

// BlockedHostCount returns the number of hosts with a URI in flight.
func (f *Frontier) BlockedHostCount() int { return f.Stats().BlockedHosts }

// NextURIs hands out the next dispatch batch. It never blocks and may be empty.
func (f *Frontier) NextURIs(ctx context.Context) []uri.CrawleableURI {
	_, span := f.tracer.Start(ctx, "frontier.NextURIs")
	defer span.End()

	batch := f.queue.NextURIs()
	span.SetAttributes(attribute.Int("batch.size", len(batch)))
	metrics.ObserveDispatch(len(batch))
	f.publishGauges()
	return batch
}

// AddNewURI offers one URI for admission. A zero date means immediately.
func (f *Frontier) AddNewURI(ctx context.Context, c uri.CrawleableURI, date time.Time) Outcome {
	outcome := f.admit(ctx, c, date, true)
	metrics.ObserveAdmission(string(outcome))
	return outcome
}

// AddNewURIs offers every pair and tallies the outcomes.
func (f *Frontier) AddNewURIs(ctx context.Context, pairs []uri.DatePair) Summary {
	ctx, span := f.tracer.Start(ctx, "frontier.AddNewURIs")
	defer span.End()

	summary := make(Summary)
	for _, p := range pairs {
		summary[f.AddNewURI(ctx, p.URI, p.Date)]++
	}
	span.SetAttributes(attribute.Int("uris.offered", len(pairs)), attribute.Int("uris.admitted", summary[Admitted]))
	f.publishGauges()
	return summary
}

// CrawlingDone reconciles a worker report: it logs the provenance edge,
// frees the hosts of the completed URIs, records their completion, admits
// the discovered URIs, and, when recrawling, schedules the completed URIs
// again one recrawl interval out.
func (f *Frontier) CrawlingDone(ctx context.Context, completed, discovered []uri.DatePair) {
	ctx, span := f.tracer.Start(ctx, "frontier.CrawlingDone")
	defer span.End()
	span.SetAttributes(attribute.Int("uris.completed", len(completed)), attribute.Int("uris.discovered", len(discovered)))

	if f.graph != nil {
		f.graph.Log(uri.URIs(completed), uri.URIs(discovered))
	}

	f.releaseHosts(completed)

	now := f.clock.Now()
	for _, p := range completed {
		at := p.Date
		if at.IsZero() {
			at = now
		}
		if err := f.known.RecordCompletion(ctx, p.URI, at); err != nil {
			metrics.ObserveFilterError()
			f.logger.Error("recording completion failed", zap.String("uri", p.URI.URI), zap.Error(err))
		}
	}
	metrics.ObserveCompleted(len(completed))

	if f.domains {
		discovered = withDomainVariants(discovered)
	}
	f.AddNewURIs(ctx, discovered)

	if f.DoesRecrawling() {
		interval := f.known.RecrawlInterval()
		for _, p := range completed {
			base := p.Date
			if base.IsZero() || base.Before(now) {
				base = now
			}
			metrics.ObserveAdmission(string(f.admit(ctx, p.URI, base.Add(interval), false)))
		}
	}
	f.publishGauges()
}

// ReleaseStaleHosts frees hosts busy for longer than olderThan. Queues that do
// not track hosts release nothing.
func (f *Frontier) ReleaseStaleHosts(olderThan time.Duration) []netip.Addr {
	r, ok := f.queue.(staleReleaser)
	if !ok || olderThan <= 0 {
		return nil
	}
	released := r.ReleaseStale(olderThan)
	for _, addr := range released {
		metrics.ObserveHostRelease("stale")
		f.logger.Warn("released host without completion report",
			zap.Stringer("addr", addr),
			zap.Duration("busy_for_more_than", olderThan),
		)
	}
	if len(released) > 0 {
		f.publishGauges()
	}
	return released
}

// withDomainVariants appends the domain root of each pair, once per root and
// only when the root is not already in pairs.
func withDomainVariants(pairs []uri.DatePair) []uri.DatePair {
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		seen[p.URI.URI] = struct{}{}
	}
	out := append([]uri.DatePair(nil), pairs...)
	for _, p := range pairs {
		root, err := norm.DomainVariant(p.URI.URI)
		if err != nil {
			continue
		}
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		c, err := uri.New(root)
		if err != nil {
			continue
		}
		out = append(out, uri.DatePair{URI: c.WithData(uri.KeyDiscoveredFrom, p.URI.URI), Date: p.Date})
	}
	return out
}

func (f *Frontier) releaseHosts(completed []uri.DatePair) {
	if f.hosts == nil {
		return
	}
	seen := make(map[netip.Addr]struct{}, len(completed))
	for _, p := range completed {
		addr := p.URI.IP
		if !addr.IsValid() {
			f.logger.Warn("completed uri carries no address; host not released", zap.String("uri", p.URI.URI))
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		if r, ok := f.queue.(staleReleaser); ok {
			released, late := r.ReleaseFor(p.URI)
			switch {
			case late:
				metrics.ObserveHostRelease("late")
				continue
			case released:
				metrics.ObserveHostRelease("released")
			default:
				metrics.ObserveHostRelease("not_busy")
			}
			seen[addr] = struct{}{}
			continue
		}
		seen[addr] = struct{}{}
		if f.hosts.MarkHostAccessible(addr) {
			metrics.ObserveHostRelease("released")
		} else {
			metrics.ObserveHostRelease("not_busy")
		}
	}
}

// admit runs the admission pipeline. checkKnown is false for recrawl
// re-admission: the URI was recorded a moment ago and its date already
// encodes the interval.
func (f *Frontier) admit(ctx context.Context, c uri.CrawleableURI, date time.Time, checkKnown bool) Outcome {
	if u, err := c.Parsed(); err != nil || !u.IsAbs() {
		f.drop(c, Invalid, err)
		return Invalid
	}
	c = f.norm.Normalize(c)

	if !f.schemes.IsAcceptable(c) {
		f.drop(c, RejectedScheme, nil)
		return RejectedScheme
	}
	if checkKnown {
		ok, err := f.known.IsEligible(ctx, c)
		if err != nil {
			metrics.ObserveFilterError()
			f.logger.Error("known-uri filter unavailable; dropping uri", zap.String("uri", c.URI), zap.Error(err))
			return FilterUnavailable
		}
		if !ok {
			f.drop(c, RejectedKnown, nil)
			return RejectedKnown
		}
	}

	processed, err := f.proc.Process(ctx, c)
	if err != nil {
		if !errors.Is(err, processor.ErrNotResolvable) {
			f.logger.Error("uri processing failed", zap.String("uri", c.URI), zap.Error(err))
		}
		f.drop(c, Unresolvable, err)
		return Unresolvable
	}

	if !f.DoesRecrawling() {
		date = time.Time{}
	}
	if err := f.queue.AddURI(processed, date); err != nil {
		f.drop(processed, QueueRejected, err)
		return QueueRejected
	}
	return Admitted
}

func (f *Frontier) drop(c uri.CrawleableURI, outcome Outcome, err error) {
	fields := []zap.Field{zap.String("uri", c.URI), zap.String("reason", string(outcome))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	f.logger.Warn("uri not admitted", fields...)
}

func (f *Frontier) publishGauges() {
	s := f.Stats()
	metrics.SetQueueState(s.Pending, s.BlockedHosts)
}
