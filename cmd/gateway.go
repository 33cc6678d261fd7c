package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waclerk/waclerk/internal/gateway"
	mongostore "github.com/waclerk/waclerk/internal/store/mongo"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the public gateway: auth, permissions, audit, reverse proxy",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mongostore.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database, cfg.MongoTimeout())
	if err != nil {
		slog.Error("mongo connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			slog.Error("mongo close failed", "error", err)
		}
	}()

	// The backend ensures these too; doing it here as well means the session
	// and lockout TTLs exist even when the gateway is deployed first.
	if err := client.EnsureIndexes(ctx); err != nil {
		slog.Error("ensure indexes failed", "error", err)
		os.Exit(1)
	}

	srv, err := gateway.New(cfg, client.NewStores(), slog.Default())
	if err != nil {
		slog.Error("gateway init failed", "error", err)
		os.Exit(1)
	}

	slog.Info("waclerk gateway starting", "version", Version)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
