// Package tokens records LLM usage events and enforces per-owner dollar
// quotas.
package tokens

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/store"
)

// menuTTL bounds how long the pricing table is served from memory.
const menuTTL = 5 * time.Minute

// QuotaHook is invoked with the owner whose quota state changed.
type QuotaHook func(ctx context.Context, userID string)

// Service writes token events and applies quota accounting. Hooks connect it
// to the bot lifecycle without a package dependency: exceeded stops the
// owner's bots, restored restarts them after a reset.
type Service struct {
	stores *store.Stores
	logger *slog.Logger

	mu       sync.Mutex
	menu     *store.TokenMenu
	menuRead time.Time

	onExceeded QuotaHook
	onRestored QuotaHook
}

func NewService(stores *store.Stores, logger *slog.Logger) *Service {
	return &Service{stores: stores, logger: logger}
}

// SetQuotaHooks must be called before the first Record.
func (s *Service) SetQuotaHooks(exceeded, restored QuotaHook) {
	s.onExceeded = exceeded
	s.onRestored = restored
}

// UsageFunc builds the llm callback for one (owner, bot, feature, tier)
// binding.
func (s *Service) UsageFunc(userID, botID, feature, tier string) llm.UsageFunc {
	return func(ctx context.Context, model string, usage llm.Usage) {
		s.Record(ctx, store.TokenEvent{
			Timestamp:         time.Now().UTC(),
			UserID:            userID,
			BotID:             botID,
			FeatureName:       feature,
			InputTokens:       usage.InputTokens,
			CachedInputTokens: usage.CachedInputTokens,
			OutputTokens:      usage.OutputTokens,
			ConfigTier:        tier,
		})
	}
}

// Record persists the event, increments the owner's dollars_used, and
// disables the owner on overrun. Storage failures are logged, never
// propagated: a broken meter must not break the chat path.
func (s *Service) Record(ctx context.Context, ev store.TokenEvent) {
	if err := s.stores.Tokens.Insert(ctx, ev); err != nil {
		s.logger.Error("tokens.record", "user", ev.UserID, "bot", ev.BotID, "error", err)
	}

	cost := s.Cost(ctx, ev)
	if cost <= 0 {
		return
	}
	if err := s.stores.Users.IncDollarsUsed(ctx, ev.UserID, cost); err != nil {
		s.logger.Error("tokens.inc_usage", "user", ev.UserID, "error", err)
		return
	}

	user, err := s.stores.Users.Get(ctx, ev.UserID)
	if err != nil {
		s.logger.Error("tokens.reread_user", "user", ev.UserID, "error", err)
		return
	}
	if !user.Quota.Enabled || user.Quota.DollarsUsed < user.Quota.DollarsPerPeriod {
		return
	}

	s.logger.Warn("tokens.quota_exceeded",
		"user", ev.UserID,
		"used", user.Quota.DollarsUsed,
		"limit", user.Quota.DollarsPerPeriod)
	if err := s.stores.Users.SetQuotaEnabled(ctx, ev.UserID, false); err != nil {
		s.logger.Error("tokens.disable_quota", "user", ev.UserID, "error", err)
		return
	}
	if s.onExceeded != nil {
		s.onExceeded(ctx, ev.UserID)
	}
}

// Cost prices one event against the token menu. Unknown tiers cost zero and
// log a warning.
func (s *Service) Cost(ctx context.Context, ev store.TokenEvent) float64 {
	menu := s.tokenMenu(ctx)
	if menu == nil {
		return 0
	}
	rates, ok := menu.Tiers[ev.ConfigTier]
	if !ok {
		s.logger.Warn("tokens.unknown_tier", "tier", ev.ConfigTier)
		return 0
	}
	return CostOf(ev, rates)
}

// CostOf applies the per-million-token rates to one event.
func CostOf(ev store.TokenEvent, rates store.TierRates) float64 {
	uncached := ev.InputTokens - ev.CachedInputTokens
	if uncached < 0 {
		uncached = 0
	}
	total := float64(uncached)*rates.InputTokens +
		float64(ev.CachedInputTokens)*rates.CachedInputTokens +
		float64(ev.OutputTokens)*rates.OutputTokens
	return total / 1e6
}

func (s *Service) tokenMenu(ctx context.Context) *store.TokenMenu {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.menu != nil && time.Since(s.menuRead) < menuTTL {
		return s.menu
	}
	menu, err := s.stores.Menu.TokenMenu(ctx)
	if err != nil {
		s.logger.Error("tokens.load_menu", "error", err)
		return s.menu
	}
	s.menu = menu
	s.menuRead = time.Now()
	return s.menu
}
