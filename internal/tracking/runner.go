// Package tracking periodically captures tracked-group history into
// persisted periods and turns new messages into actionable delivery items.
// A cron scheduler fires the runner per (bot, group); the runner fetches
// recent history, cuts it to the schedule's window, extracts items through
// a two-stage LLM pipeline, and enqueues them for delivery to the owner.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/cronwin"
	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/prompts"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/store"
	"github.com/waclerk/waclerk/internal/tracing"
)

const (
	// maxJitter desynchronizes co-scheduled fires.
	maxJitter = 60 * time.Second
	// historyFetchLimit caps one history fetch.
	historyFetchLimit = 500
	// dedupPeriods is how many recent periods feed the dedup set.
	dedupPeriods = 5
)

// Connection is the provider surface the runner needs from a live session.
type Connection interface {
	IsConnected() bool
	FetchGroupHistory(ctx context.Context, groupID string, limit int) ([]provider.HistoryMessage, error)
}

// SessionLookup finds the live connection for a bot; ok is false when the
// bot has no running session.
type SessionLookup func(botID string) (Connection, bool)

// ClientBuilder builds a usage-instrumented LLM client for one tier of a
// bot. The backend wires this to the LLM factory plus the token service.
type ClientBuilder func(tierName string, tier botcfg.TierConfig, userID, botID string) (llm.Client, error)

// Config assembles a runner.
type Config struct {
	Bots     store.BotStore
	Tracking store.TrackingStore
	Delivery store.DeliveryStore
	Lookup   SessionLookup
	Prompts  *prompts.Registry
	Clients  ClientBuilder
	Logger   *slog.Logger
}

// Runner executes scheduled tracking fires.
type Runner struct {
	bots     store.BotStore
	tracking store.TrackingStore
	delivery store.DeliveryStore
	lookup   SessionLookup
	prompts  *prompts.Registry
	clients  ClientBuilder
	logger   *slog.Logger

	jitter func() time.Duration
	now    func() time.Time
}

func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		bots:     cfg.Bots,
		tracking: cfg.Tracking,
		delivery: cfg.Delivery,
		lookup:   cfg.Lookup,
		prompts:  cfg.Prompts,
		clients:  cfg.Clients,
		logger:   logger.With("component", "tracking"),
		jitter:   func() time.Duration { return rand.N(maxJitter) },
		now:      time.Now,
	}
}

// Run executes one scheduled fire. Aborting before the persist step leaves
// last_run untouched, so the next fire retries the same window.
func (r *Runner) Run(ctx context.Context, botID string, cfg botcfg.TrackedGroupConfig) {
	log := r.logger.With("bot", botID, "group", cfg.GroupID)

	if d := r.jitter(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}

	ctx, span := tracing.StartSpan(ctx, "tracking.run",
		attribute.String("bot_id", botID),
		attribute.String("group_id", cfg.GroupID),
	)
	defer span.End()

	rec, err := r.bots.Get(ctx, botID)
	if err != nil {
		log.Error("tracking.config", "error", err)
		return
	}
	bot := rec.ConfigData

	conn, ok := r.lookup(botID)
	if !ok || !conn.IsConnected() {
		log.Info("tracking.skip_disconnected")
		return
	}

	history, err := conn.FetchGroupHistory(ctx, cfg.GroupID, historyFetchLimit)
	if err != nil {
		log.Error("tracking.fetch", "error", err)
		return
	}
	if history == nil {
		log.Warn("tracking.fetch_empty_result")
		return
	}

	var lastRun *time.Time
	state, err := r.tracking.GetState(ctx, botID, cfg.GroupID)
	switch {
	case err == nil && state.LastRunMS > 0:
		t := time.UnixMilli(state.LastRunMS)
		lastRun = &t
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Error("tracking.state", "error", err)
		return
	}

	loc := bot.Profile.Location()
	win, err := cronwin.Compute(cfg.CronSchedule, loc, r.now(), lastRun)
	if err != nil {
		log.Error("tracking.window", "error", err)
		return
	}

	dedup, err := r.dedupSet(ctx, botID, cfg.GroupID)
	if err != nil {
		log.Error("tracking.dedup", "error", err)
		return
	}

	captured := capture(history, win, dedup)

	period := &store.TrackedPeriod{
		BotID:         botID,
		GroupID:       cfg.GroupID,
		PeriodStartMS: win.Start.UnixMilli(),
		PeriodEndMS:   win.End.UnixMilli(),
		MessageCount:  len(captured),
		Messages:      captured,
		CreatedAt:     r.now().UTC(),
	}
	group := store.TrackedGroup{
		BotID:        botID,
		GroupID:      cfg.GroupID,
		DisplayName:  cfg.DisplayName,
		CronSchedule: cfg.CronSchedule,
	}
	newState := store.TrackingState{
		BotID:     botID,
		GroupID:   cfg.GroupID,
		LastRunMS: win.End.UnixMilli(),
	}
	if err := r.tracking.SaveResult(ctx, group, period, newState); err != nil {
		log.Error("tracking.persist", "error", err)
		return
	}
	log.Info("tracking.period_saved",
		"messages", len(captured),
		"window_start", win.Start, "window_end", win.End)

	if len(captured) == 0 {
		return
	}

	items := r.extract(ctx, bot, cfg, captured)
	if len(items) == 0 {
		return
	}
	r.enqueue(ctx, bot, items, log)
}

// dedupSet collects provider message ids already persisted in the most
// recent periods. History fetches overlap windows; this keeps re-fetched
// messages out of new periods.
func (r *Runner) dedupSet(ctx context.Context, botID, groupID string) (map[string]struct{}, error) {
	periods, err := r.tracking.RecentPeriods(ctx, botID, groupID, dedupPeriods)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, p := range periods {
		for _, m := range p.Messages {
			if m.ProviderMessageID != "" {
				set[m.ProviderMessageID] = struct{}{}
			}
		}
	}
	return set, nil
}

// capture filters history to the window, drops already-persisted messages,
// and returns the rest sorted by originating time.
func capture(history []provider.HistoryMessage, win cronwin.Window, dedup map[string]struct{}) []store.PeriodMessage {
	out := make([]store.PeriodMessage, 0, len(history))
	for _, m := range history {
		if !win.ContainsMS(m.OriginatingTimeMS) {
			continue
		}
		if m.ProviderMessageID != "" {
			if _, seen := dedup[m.ProviderMessageID]; seen {
				continue
			}
		}
		out = append(out, store.PeriodMessage{
			ProviderMessageID: m.ProviderMessageID,
			Sender:            m.Sender,
			SenderDisplay:     m.DisplayName,
			Content:           m.Content,
			Source:            string(m.Source),
			OriginatingTimeMS: m.OriginatingTimeMS,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OriginatingTimeMS < out[j].OriginatingTimeMS
	})
	return out
}

func (r *Runner) enqueue(ctx context.Context, bot botcfg.BotConfig, items []Item, log *slog.Logger) {
	enqueued := 0
	for _, item := range items {
		job := store.DeliveryJob{
			MessageID: uuid.NewString(),
			Metadata: store.DeliveryMetadata{Destination: store.Destination{
				UserID:       bot.UserID,
				BotID:        bot.BotID,
				ProviderName: bot.Provider.Name,
			}},
			MessageType: store.DeliveryTypeActionableItem,
			CreatedAt:   r.now().UTC(),
			Content:     item.content(),
		}
		if err := r.delivery.Enqueue(ctx, job); err != nil {
			log.Error("tracking.enqueue", "error", err)
			continue
		}
		enqueued++
	}
	log.Info("tracking.items_enqueued", "count", enqueued)
}
