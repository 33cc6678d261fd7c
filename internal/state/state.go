// Package state assembles the backend process. Every store, service, and
// loop behind the internal API is constructed here in dependency order,
// started as a group, and torn down in reverse when the run context ends.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/config"
	"github.com/waclerk/waclerk/internal/delivery"
	"github.com/waclerk/waclerk/internal/events"
	"github.com/waclerk/waclerk/internal/httpapi"
	"github.com/waclerk/waclerk/internal/lifecycle"
	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/prompts"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/store"
	mongostore "github.com/waclerk/waclerk/internal/store/mongo"
	"github.com/waclerk/waclerk/internal/tokens"
	"github.com/waclerk/waclerk/internal/tracing"
	"github.com/waclerk/waclerk/internal/tracking"

	// Chat providers register their factories at init time.
	_ "github.com/waclerk/waclerk/internal/provider/discord"
	_ "github.com/waclerk/waclerk/internal/provider/telegram"
	_ "github.com/waclerk/waclerk/internal/provider/whatsapp"
)

const (
	// httpShutdownGrace bounds the drain of in-flight API requests.
	httpShutdownGrace = 5 * time.Second
	// stopGrace bounds session, scheduler, and store teardown at exit.
	stopGrace = 30 * time.Second
)

// App owns every long-lived component of the backend process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	stores    *store.Stores
	mongo     *mongostore.Client
	prompts   *prompts.Registry
	tokens    *tokens.Service
	hub       *events.Hub
	delivery  *delivery.Manager
	scheduler *tracking.Scheduler
	lifecycle *lifecycle.Manager
	api       *httpapi.Server

	flushTraces func(context.Context) error

	// baseCtx is the run context. Scheduler fires read it through the App
	// pointer; Run assigns it before the scheduler starts.
	baseCtx context.Context
}

// New connects to MongoDB, ensures the collection indexes, and wires the
// full component graph. The returned App is inert until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	client, err := mongostore.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database, cfg.MongoTimeout())
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	app, err := assemble(cfg, client.NewStores(), logger)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	app.mongo = client

	flush, err := tracing.Setup(ctx, cfg.Telemetry, app.logger)
	if err != nil {
		app.logger.Warn("state.tracing", "error", err)
	} else {
		app.flushTraces = flush
	}
	return app, nil
}

// assemble wires the component graph on top of a store set. Split from New
// so tests can assemble against in-memory stores.
func assemble(cfg *config.Config, stores *store.Stores, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger.With("component", "state"),
		stores:  stores,
		baseCtx: context.Background(),
	}

	reg, err := prompts.New(cfg.Prompts.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("prompt templates: %w", err)
	}
	a.prompts = reg

	factory := llm.NewFactory(cfg.LLM, logger)
	a.tokens = tokens.NewService(stores, logger)
	a.hub = events.NewHub(logger)

	// The lookup closures resolve through a.lifecycle at call time. The
	// manager is assigned below, before any loop that can invoke them runs.
	a.delivery = delivery.NewManager(stores.Delivery, func(botID string) (delivery.Target, bool) {
		p, ok := a.lifecycle.Provider(botID)
		if !ok {
			return nil, false
		}
		return p, true
	}, logger)

	runner := tracking.NewRunner(tracking.Config{
		Bots:     stores.Bots,
		Tracking: stores.Tracking,
		Delivery: stores.Delivery,
		Lookup: func(botID string) (tracking.Connection, bool) {
			p, ok := a.lifecycle.Provider(botID)
			if !ok {
				return nil, false
			}
			return p, true
		},
		Prompts: reg,
		Clients: func(tierName string, tier botcfg.TierConfig, userID, botID string) (llm.Client, error) {
			usage := a.tokens.UsageFunc(userID, botID, botcfg.FeatureGroupTracking, tierName)
			return factory.ForTier(tierName, tier, usage)
		},
		Logger: logger,
	})
	a.scheduler = tracking.NewScheduler(func(botID string, tc botcfg.TrackedGroupConfig) {
		runner.Run(a.baseCtx, botID, tc)
	}, logger)

	a.lifecycle = lifecycle.NewManager(lifecycle.Config{
		Bots:  stores.Bots,
		Users: stores.Users,
		Build: lifecycle.NewBuilder(lifecycle.BuilderConfig{
			Config:  cfg,
			Stores:  stores,
			Prompts: reg,
			LLM:     factory,
			Tokens:  a.tokens,
			Logger:  logger,
		}),
		Tracker: a.scheduler,
		Moves:   a.delivery,
		Hub:     a.hub,
		Logger:  logger,
	})

	a.tokens.SetQuotaHooks(
		func(ctx context.Context, userID string) { a.lifecycle.StopOwnerBots(ctx, userID) },
		func(ctx context.Context, userID string) { a.lifecycle.StartOwnerBots(ctx, userID) },
	)

	a.api = httpapi.New(httpapi.Config{
		Stores:    stores,
		Lifecycle: a.lifecycle,
		Events:    a.hub,
		Logger:    logger,
	})
	return a, nil
}

// Handler exposes the internal API mux.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Run starts every loop and serves the internal API until ctx ends, then
// tears the process down.
func (a *App) Run(ctx context.Context) error {
	a.baseCtx = ctx

	// Jobs a previous process run left active would sit unread until their
	// bot reconnects; park them with the rest of the holding segment.
	if err := a.delivery.HoldAll(ctx); err != nil {
		a.logger.Error("state.hold_delivery", "error", err)
	}
	if err := a.prompts.Watch(ctx); err != nil {
		a.logger.Warn("state.prompts_watch", "error", err)
	}
	a.scheduler.Start()

	addr := net.JoinHostPort(a.cfg.Backend.Host, strconv.Itoa(a.cfg.Backend.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("state.start",
		"addr", addr,
		"providers", provider.Names(),
		"auto_start_in", a.cfg.AutoStartDelay(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.delivery.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.tokens.RunResetLoop(gctx, tokens.ResetInterval)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-time.After(a.cfg.AutoStartDelay()):
		}
		a.lifecycle.AutoStartAll(gctx)
		return nil
	})
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("backend listen: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err := g.Wait()
	a.stop()
	return err
}

// stop tears components down in reverse start order: sessions first so
// providers flush through still-open stores, Mongo last.
func (a *App) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()

	a.lifecycle.StopAll(ctx)
	a.scheduler.Stop(ctx)
	a.hub.Close()
	_ = a.prompts.Close()

	if a.flushTraces != nil {
		if err := a.flushTraces(ctx); err != nil {
			a.logger.Warn("state.trace_flush", "error", err)
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			a.logger.Error("state.mongo_close", "error", err)
		}
	}
	a.logger.Info("state.stopped")
}
