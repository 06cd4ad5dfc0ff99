package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ld-frontier/internal/server"
)

func newServeCmd() *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the frontier service",
		Long: `Serves the worker protocol over HTTP until SIGINT or SIGTERM. When a
seed file is configured it is loaded in the background once the service is up.
The PORT environment variable, when set, overrides server.port.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			if seedFile != "" {
				cfg.Seed.File = seedFile
			}
			if p := os.Getenv("PORT"); p != "" {
				port, err := strconv.Atoi(p)
				if err != nil || port <= 0 {
					return fmt.Errorf("invalid PORT %q", p)
				}
				cfg.Server.Port = port
			}

			app, err := server.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("build frontier: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "seed file to load at startup (local path or gs://bucket/object)")
	return cmd
}
