package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waclerk/waclerk/internal/state"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend: bot sessions, queues, tracking, delivery, internal API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := state.New(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("backend init failed", "error", err)
		os.Exit(1)
	}

	slog.Info("waclerk backend starting", "version", Version)
	if err := app.Run(ctx); err != nil {
		slog.Error("backend error", "error", err)
		os.Exit(1)
	}
}
