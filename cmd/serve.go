package cmd

import (
	"context"
	"fmt"

	"heritage/bootstrap"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the service and serve HTTP",
		Long:  "Run the bootstrap fallback chain and serve the selected instance until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveOptions(cmd))
		},
	}
}

// runServe bootstraps, serves and shuts down.
func runServe(ctx context.Context, opts bootstrap.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.NewApp(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	app.Start()

	// Wait for shutdown signal
	serveErr := app.WaitForShutdown()

	// Graceful shutdown
	if err := app.Shutdown(); err != nil && serveErr == nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	return serveErr
}
