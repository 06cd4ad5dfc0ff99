// Package server wires the frontier service together and runs it until
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ld-frontier/internal/api"
	"github.com/JakeFAU/ld-frontier/internal/clock/system"
	"github.com/JakeFAU/ld-frontier/internal/config"
	"github.com/JakeFAU/ld-frontier/internal/filter"
	"github.com/JakeFAU/ld-frontier/internal/frontier"
	"github.com/JakeFAU/ld-frontier/internal/graphlog"
	"github.com/JakeFAU/ld-frontier/internal/graphlog/sinks"
	"github.com/JakeFAU/ld-frontier/internal/id/uuid"
	"github.com/JakeFAU/ld-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/ld-frontier/internal/processor"
	gcppublisher "github.com/JakeFAU/ld-frontier/internal/publisher/pubsub"
	"github.com/JakeFAU/ld-frontier/internal/queue"
	"github.com/JakeFAU/ld-frontier/internal/seed"
	gcsstorage "github.com/JakeFAU/ld-frontier/internal/storage/gcs"
	memorystorage "github.com/JakeFAU/ld-frontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/ld-frontier/internal/storage/postgres"
	redisstore "github.com/JakeFAU/ld-frontier/internal/storage/redis"
	sqlitestore "github.com/JakeFAU/ld-frontier/internal/storage/sqlite"
	"github.com/JakeFAU/ld-frontier/internal/telemetry"
	"github.com/JakeFAU/ld-frontier/internal/uri"
	"github.com/JakeFAU/ld-frontier/internal/uri/norm"
)

const limiterIdleTTL = 10 * time.Minute

// App contains the frontier service's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	clock          *system.Clock
	frontier       *frontier.Frontier
	apiServer      *api.Server
	limiter        *ratelimit.Limiter
	graphHub       *graphlog.Hub
	storage        *storage.Client
	seeds          *seed.Reader
	tracerProvider *sdktrace.TracerProvider
	draining       atomic.Bool
}

// Build creates the service's dependencies from cfg. Graph metrics register
// against the default Prometheus registry.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	logger.Info("building frontier",
		zap.Int("port", cfg.Server.Port),
		zap.String("filter_backend", cfg.Filter.Backend),
		zap.Bool("recrawl", cfg.Frontier.RecrawlEnabled),
		zap.Bool("politeness", cfg.Frontier.Politeness),
	)
	app := &App{cfg: cfg, logger: logger, clock: system.New()}

	if err := app.setupTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := app.setupGraph(ctx, reg); err != nil {
		app.closeObservability(ctx)
		return nil, err
	}
	if err := app.setupFrontier(ctx); err != nil {
		app.closeInfrastructure(ctx)
		app.closeObservability(ctx)
		return nil, err
	}
	if err := app.setupSeeds(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	app.limiter = ratelimit.New(ratelimit.Config{
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
		IdleTTL: limiterIdleTTL,
	})
	var apiKey string
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.frontier, api.Options{
		APIKey:         apiKey,
		Limiter:        app.limiter,
		Ready:          app.ready,
		RequestTimeout: cfg.Server.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger.Named("api"),
	})
	return app, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	a.logger.Info("tracing enabled", zap.Float64("sample_ratio", a.cfg.Telemetry.SampleRatio))
	return nil
}

func (a *App) setupGraph(ctx context.Context, reg prometheus.Registerer) error {
	gc := a.cfg.Graph
	if !gc.Enabled {
		a.logger.Info("crawl-graph logging disabled")
		return nil
	}
	var sinkList []graphlog.Sink
	if gc.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("graph_log")))
	}
	if gc.TSVPath != "" {
		tsv, err := sinks.NewTSVSink(gc.TSVPath)
		if err != nil {
			return fmt.Errorf("graph tsv sink init failed: %w", err)
		}
		sinkList = append(sinkList, tsv)
		a.logger.Debug("added graph tsv sink", zap.String("path", gc.TSVPath))
	}
	if gc.Metrics {
		prom, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("graph prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, prom)
	}
	if gc.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, gc.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		// The sink owns the client from here on; closing the hub closes it.
		ps, err := sinks.NewPubSubSink(gcppublisher.New(client), gc.PubSub.Topic)
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("graph pubsub sink init failed: %w", err)
		}
		sinkList = append(sinkList, ps)
		a.logger.Info("graph pubsub sink initialized",
			zap.String("project", gc.PubSub.ProjectID),
			zap.String("topic", gc.PubSub.Topic),
		)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("crawl-graph logging enabled but no sinks configured")
		return nil
	}
	hubCfg := graphlog.Config{
		BufferSize:    gc.BufferSize,
		MaxBatchEdges: gc.BatchMaxEvents,
		MaxBatchWait:  gc.BatchMaxWait(),
		BaseContext:   context.WithoutCancel(ctx),
		Logger:        a.logger,
		IDs:           uuid.New(),
		Clock:         a.clock,
	}
	a.graphHub = graphlog.NewHub(hubCfg, sinkList...)
	a.logger.Info("graph hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupFrontier(ctx context.Context) error {
	store, err := newRecordStore(a.cfg)
	if err != nil {
		return err
	}
	normalizer := norm.New(a.logger)
	known := filter.NewKnownURIFilter(store, normalizer, a.clock, filter.KnownConfig{
		RecrawlEnabled:  a.cfg.Frontier.RecrawlEnabled,
		RecrawlInterval: a.cfg.Frontier.RecrawlInterval,
		BloomCapacity:   a.cfg.Filter.BloomCapacity,
		BloomFPRate:     a.cfg.Filter.BloomFPRate,
	}, a.logger)

	var q queue.Queue
	if a.cfg.Frontier.Politeness {
		q = queue.NewPolitenessQueue(a.clock, a.cfg.Frontier.MaxBatchSize, a.logger)
	} else {
		q = queue.NewPlainQueue(a.clock, a.cfg.Frontier.MaxBatchSize)
		a.logger.Warn("politeness disabled, hosts may receive concurrent requests")
	}

	opts := frontier.Options{
		Queue:      q,
		Known:      known,
		Schemes:    filter.NewSchemeFilter(a.cfg.Frontier.AllowedSchemes),
		Processor:  processor.New(nil, a.cfg.Frontier.ResolveTimeout),
		Normalizer: normalizer,
		Clock:      a.clock,
		Logger:     a.logger,

		DomainVariants: a.cfg.Frontier.DomainVariants,
	}
	if a.graphHub != nil {
		opts.Graph = a.graphHub
	}
	a.frontier, err = frontier.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("frontier init failed: %w", err)
	}
	a.logger.Info("frontier ready", zap.Any("stats", a.frontier.Stats()))
	return nil
}

func newRecordStore(cfg *config.Config) (filter.RecordStore, error) {
	switch cfg.Filter.Backend {
	case config.BackendPostgres:
		s, err := pgstore.NewRecordStore(pgstore.Config{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Database.Table,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlitestore.NewRecordStore(cfg.SQLite.Dir)
		if err != nil {
			return nil, fmt.Errorf("sqlite record store init failed: %w", err)
		}
		return s, nil
	case config.BackendRedis:
		s, err := redisstore.NewRecordStore(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis record store init failed: %w", err)
		}
		return s, nil
	case config.BackendMemory, "":
		return memorystorage.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown filter backend %q", cfg.Filter.Backend)
	}
}

func (a *App) setupSeeds(ctx context.Context) error {
	var objects seed.ObjectOpener
	if strings.HasPrefix(a.cfg.Seed.File, "gs://") {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		objects = gcsstorage.NewObjectReader(client)
	}
	a.seeds = seed.NewReader(objects, a.logger)
	return nil
}

// Handler exposes the HTTP handler serving the worker protocol.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Frontier returns the wired frontier.
func (a *App) Frontier() *frontier.Frontier {
	return a.frontier
}

// LoadSeeds reads location and offers every URI to the frontier, dated now.
func (a *App) LoadSeeds(ctx context.Context, location string) (frontier.Summary, error) {
	uris, err := a.seeds.Load(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("load seeds from %s: %w", location, err)
	}
	summary := a.frontier.AddNewURIs(ctx, uri.Pairs(a.clock.Now(), uris...))
	a.logger.Info("seeds loaded",
		zap.String("location", location),
		zap.Int("read", len(uris)),
		zap.Int("admitted", summary[frontier.Admitted]),
	)
	return summary, nil
}

func (a *App) ready(context.Context) error {
	if a.draining.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Run serves the API and background loops until ctx is canceled or a
// termination signal arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.draining.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		a.sweepStaleHosts(gctx)
		return nil
	})
	g.Go(func() error {
		a.pruneLimiter(gctx)
		return nil
	})
	if a.cfg.Seed.File != "" {
		g.Go(func() error {
			if _, err := a.LoadSeeds(gctx, a.cfg.Seed.File); err != nil {
				a.logger.Error("seed load failed", zap.Error(err))
			}
			return nil
		})
	}

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// sweepStaleHosts releases hosts busy longer than frontier.host_timeout.
// A zero timeout disables the sweep.
func (a *App) sweepStaleHosts(ctx context.Context) {
	timeout := a.cfg.Frontier.HostTimeout
	if timeout <= 0 {
		return
	}
	interval := a.cfg.Frontier.SweepInterval
	if interval <= 0 || interval > timeout {
		interval = timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if released := a.frontier.ReleaseStaleHosts(timeout); len(released) > 0 {
				a.logger.Debug("stale host sweep", zap.Int("released", len(released)))
			}
		}
	}
}

func (a *App) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logger.Debug("rate limiter pruned", zap.Int("buckets", a.limiter.Prune()))
		}
	}
}

// Close releases every dependency. It is safe to call once after Run
// returns, or instead of Run.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.frontier != nil {
		if err := a.frontier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.graphHub != nil {
		if err := a.graphHub.Close(ctx); err != nil {
			a.logger.Warn("graph hub close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
