package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taxidash/taxidash/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and load the configured datasets",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides http.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("taxidash serving",
		"version", version,
		"addr", cfg.HTTP.Addr,
		"primary", cfg.Datasets.Primary.String(),
		"extras", len(cfg.Datasets.Extras),
	)

	// Blocks until SIGINT/SIGTERM; the shutdown manager drains and closes.
	if err := a.WaitForShutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stopCancel()
	return a.Stop(stopCtx)
}
