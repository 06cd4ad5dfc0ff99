package graphlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEdges: flush once this many edges queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
//   - IDs / Clock: edge ID source and time source (UUIDv7 and time.Now by default).
type Config struct {
	BufferSize    int
	MaxBatchEdges int
	MaxBatchWait  time.Duration
	SinkTimeout   time.Duration
	BaseContext   context.Context
	Logger        *zap.Logger
	IDs           IDGenerator
	Clock         Clock
}

// IDGenerator produces edge IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type v7 struct{}

func (v7) NewRawID() (uuid.UUID, error) { return uuid.NewV7() }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

const (
	defaultBufferSize    = 4096
	defaultMaxBatchEdges = 1000
	defaultMaxBatchWait  = 500 * time.Millisecond
	defaultSinkTimeout   = 10 * time.Second
	dropLogInterval      = 5 * time.Second
)

// Hub buffers edges and fans them out to registered sinks. It is safe for
// concurrent use and never blocks callers.
type Hub struct {
	cfg         Config
	sinks       []Sink
	edges       chan Edge
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEdges <= 0 {
		cfg.MaxBatchEdges = defaultMaxBatchEdges
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.IDs == nil {
		cfg.IDs = v7{}
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("graphlog")
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		edges:       make(chan Edge, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Log records one provenance edge for a completion report. Empty reports are
// ignored.
func (h *Hub) Log(completed, discovered []uri.CrawleableURI) {
	if h == nil || (len(completed) == 0 && len(discovered) == 0) {
		return
	}
	id, err := h.cfg.IDs.NewRawID()
	if err != nil {
		h.logger.Warn("edge id generation failed", zap.Error(err))
		return
	}
	h.Emit(Edge{
		ID:         id,
		TS:         h.cfg.Clock.Now(),
		Completed:  uriStrings(completed),
		Discovered: uriStrings(discovered),
	})
}

func uriStrings(in []uri.CrawleableURI) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, c.URI)
	}
	return out
}

// Emit enqueues an edge. It never blocks; if the buffer is full the edge is
// dropped and a rate-limited warning is logged.
func (h *Hub) Emit(edge Edge) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := edge.Validate(); err != nil {
		h.logger.Debug("discarding invalid edge", zap.Error(err))
		return
	}
	select {
	case h.edges <- edge:
	default:
		h.dropped.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("graph edges dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains buffered edges, flushes and closes sinks, and waits for the
// background goroutine. Repeated calls are no-ops.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("graph hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Edge, 0, h.cfg.MaxBatchEdges)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case edge := <-h.edges:
			batch = h.enqueueEdge(batch, edge, timer, &timerActive)
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			h.handleStop(batch, timer, &timerActive)
			return
		}
	}
}

func (h *Hub) enqueueEdge(batch []Edge, edge Edge, timer *time.Timer, timerActive *bool) []Edge {
	batch = append(batch, edge)
	if len(batch) >= h.cfg.MaxBatchEdges {
		h.flush(batch)
		batch = batch[:0]
		h.stopTimer(timer, timerActive)
	} else if h.cfg.MaxBatchWait > 0 {
		h.resetTimer(timer, timerActive)
	}
	return batch
}

func (h *Hub) handleStop(batch []Edge, timer *time.Timer, timerActive *bool) {
	h.stopTimer(timer, timerActive)
	for {
		select {
		case edge := <-h.edges:
			batch = append(batch, edge)
			if len(batch) >= h.cfg.MaxBatchEdges {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) resetTimer(timer *time.Timer, timerActive *bool) {
	if h.cfg.MaxBatchWait <= 0 {
		return
	}
	if *timerActive {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(h.cfg.MaxBatchWait)
	*timerActive = true
}

func (h *Hub) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (h *Hub) flush(batch []Edge) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]Edge(nil), batch...)
	baseCtx := h.cfg.BaseContext
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx := baseCtx
		cancel := func() {}
		if h.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(baseCtx, h.cfg.SinkTimeout)
		}
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("graph sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("graph sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
