package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/api"
	"github.com/JakeFAU/ld-frontier/internal/frontier"
	"github.com/JakeFAU/ld-frontier/internal/seed"
	gcsstorage "github.com/JakeFAU/ld-frontier/internal/storage/gcs"
	"github.com/JakeFAU/ld-frontier/internal/uri"
	"github.com/JakeFAU/ld-frontier/internal/worker"
)

const defaultSeedBatch = 500

// seedClient is the part of *worker.Client the seed command needs.
type seedClient interface {
	AddURIs(ctx context.Context, pairs []uri.DatePair) (api.AddURIsResponse, error)
}

func newSeedCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "seed [location]",
		Short: "Loads a seed file into a running frontier",
		Long: `Reads seed URIs from a CSV file (uri and type columns required), a
plain list with one URI per line, or a gs://bucket/object, and offers them to
the frontier at worker.frontier_url in batches. Without an argument the
configured seed.file is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			location := cfg.Seed.File
			if len(args) == 1 {
				location = args[0]
			}
			if location == "" {
				return errors.New("no seed location given")
			}

			var objects seed.ObjectOpener
			if strings.HasPrefix(location, "gs://") {
				client, err := storage.NewClient(cmd.Context())
				if err != nil {
					return fmt.Errorf("gcs client init failed: %w", err)
				}
				defer client.Close() //nolint:errcheck // best-effort close
				objects = gcsstorage.NewObjectReader(client)
			}
			uris, err := seed.NewReader(objects, logger).Load(cmd.Context(), location)
			if err != nil {
				return fmt.Errorf("read seeds: %w", err)
			}

			client, err := worker.NewClient(worker.ClientConfig{
				BaseURL:  cfg.Worker.FrontierURL,
				APIKey:   cfg.Auth.APIKey,
				WorkerID: "seed-loader",
				Timeout:  cfg.Worker.Timeout(),
			})
			if err != nil {
				return err
			}
			summary, err := submitSeeds(cmd.Context(), client, uris, batch, time.Now().UTC())
			logger.Info("seed submission finished",
				zap.String("location", location),
				zap.Int("read", len(uris)),
				zap.Any("outcomes", summary),
			)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", defaultSeedBatch, "URIs per request")
	return cmd
}

// submitSeeds posts uris in batches, all dated at, and tallies the outcomes.
// It stops at the first failed request.
func submitSeeds(ctx context.Context, client seedClient, uris []uri.CrawleableURI, batch int, at time.Time) (frontier.Summary, error) {
	if batch <= 0 {
		batch = defaultSeedBatch
	}
	total := frontier.Summary{}
	for start := 0; start < len(uris); start += batch {
		end := min(start+batch, len(uris))
		resp, err := client.AddURIs(ctx, uri.Pairs(at, uris[start:end]...))
		if err != nil {
			return total, fmt.Errorf("submit seeds %d-%d: %w", start, end, err)
		}
		for outcome, n := range resp.Outcomes {
			total[outcome] += n
		}
	}
	return total, nil
}
