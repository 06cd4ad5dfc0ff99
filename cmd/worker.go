package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/clock/system"
	"github.com/JakeFAU/ld-frontier/internal/config"
	collyfetcher "github.com/JakeFAU/ld-frontier/internal/fetcher/colly"
	"github.com/JakeFAU/ld-frontier/internal/hash/sha256"
	"github.com/JakeFAU/ld-frontier/internal/id/uuid"
	"github.com/JakeFAU/ld-frontier/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/ld-frontier/internal/publisher/pubsub"
	"github.com/JakeFAU/ld-frontier/internal/sink"
	gcsstorage "github.com/JakeFAU/ld-frontier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ld-frontier/internal/storage/local"
	memorystorage "github.com/JakeFAU/ld-frontier/internal/storage/memory"
	"github.com/JakeFAU/ld-frontier/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs the reference crawl worker",
		Long: `Polls the frontier at worker.frontier_url for URIs, fetches them with
Colly, stores raw responses in the configured blob store, and reports
completed and discovered URIs back to the frontier.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.Worker.Concurrency = concurrency
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, cleanup, err := buildWorker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run worker: %w", err)
			}
			logger.Info("worker stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel fetches per batch (overrides worker.concurrency)")
	return cmd
}

// buildWorker wires a Worker from cfg. The returned cleanup releases cloud
// clients and must be called once the worker stops.
func buildWorker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*worker.Worker, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("worker cleanup failed", zap.Error(err))
			}
		}
	}

	id := cfg.Worker.ID
	if id == "" {
		generated, err := uuid.New().NewID()
		if err != nil {
			return nil, nil, fmt.Errorf("generate worker id: %w", err)
		}
		id = generated
	}
	logger = logger.With(zap.String("worker_id", id))

	client, err := worker.NewClient(worker.ClientConfig{
		BaseURL:  cfg.Worker.FrontierURL,
		APIKey:   cfg.Auth.APIKey,
		WorkerID: id,
		Timeout:  cfg.Worker.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}

	blobs, closeBlobs, err := newBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}
	if closeBlobs != nil {
		closers = append(closers, closeBlobs)
	}
	raw, err := sink.New(blobs, sha256.New(), logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("raw sink init failed: %w", err)
	}

	deps := worker.Deps{
		Frontier: client,
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Worker.UserAgent,
			RespectRobots: cfg.Worker.RespectRobots,
			Timeout:       cfg.Worker.Timeout(),
			MaxBodySize:   cfg.Worker.MaxBodyBytes,
		}),
		Sink:    raw,
		Limiter: ratelimit.New(ratelimit.Config{RPS: cfg.Worker.HostRPS, Burst: 1}),
		Clock:   system.New(),
	}
	if cfg.Worker.ProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.Worker.ProjectID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(psClient)
		closers = append(closers, pub.Close)
		deps.Publisher = pub
		logger.Info("publishing crawl results",
			zap.String("project", cfg.Worker.ProjectID),
			zap.String("topic", cfg.Worker.Topic),
		)
	}

	w, err := worker.New(deps, worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		MaxRetries:   cfg.Worker.MaxRetries,
		Topic:        cfg.Worker.Topic,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("worker configured",
		zap.String("frontier_url", cfg.Worker.FrontierURL),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("respect_robots", cfg.Worker.RespectRobots),
	)
	return w, cleanup, nil
}

// newBlobStore picks the raw-data backend. The close func is nil when the
// backend holds no resources.
func newBlobStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (sink.BlobStore, func() error, error) {
	switch cfg.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		return store, client.Close, nil
	case config.StorageLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		logger.Info("using local storage backend", zap.String("path", cfg.BaseDir))
		return store, nil, nil
	default:
		logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil, nil
	}
}
