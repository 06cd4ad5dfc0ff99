package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/frontier"
	"github.com/JakeFAU/ld-frontier/internal/metrics"
	"github.com/JakeFAU/ld-frontier/internal/telemetry"
	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// Frontier is the scheduling surface the handlers drive.
type Frontier interface {
	NextURIs(ctx context.Context) []uri.CrawleableURI
	CrawlingDone(ctx context.Context, completed, discovered []uri.DatePair)
	AddNewURIs(ctx context.Context, pairs []uri.DatePair) frontier.Summary
	Stats() frontier.Stats
}

// Limiter decides whether a caller may proceed now.
type Limiter interface {
	Allow(key string) bool
}

// Options configures the HTTP surface.
type Options struct {
	// APIKey, when non-empty, is required in X-API-Key on /v1 routes.
	APIKey string
	// Limiter, when set, is consulted per X-Worker-ID on /v1 routes.
	Limiter Limiter
	// Ready reports downstream readiness for /readyz. Nil means always ready.
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodyBytes   = 8 << 20
)

// Server wires HTTP handlers to the frontier.
type Server struct {
	router   chi.Router
	frontier Frontier
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewServer constructs a Server with middleware and routes.
func NewServer(f Frontier, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		frontier: f,
		opts:     opts,
		logger:   opts.Logger.Named("api"),
		tracer:   telemetry.Tracer(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		if opts.Limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}
		r.Post("/uris/next", s.nextURIs)
		r.Post("/crawling-done", s.crawlingDone)
		r.Post("/uris", s.addURIs)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
