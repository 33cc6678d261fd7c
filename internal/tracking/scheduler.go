package tracking

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/waclerk/waclerk/internal/botcfg"
)

// FireFunc is invoked on every scheduled fire. The cron library already runs
// each entry in its own goroutine, so implementations may block.
type FireFunc func(botID string, cfg botcfg.TrackedGroupConfig)

// Scheduler maps (bot, group) pairs onto cron entries. Expressions run in
// the owner's timezone via the CRON_TZ prefix.
type Scheduler struct {
	cron   *cron.Cron
	fire   FireFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(fire FireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		fire:    fire,
		logger:  logger.With("component", "tracking.scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing registered entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for in-flight fires, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("tracking.scheduler_stop_timeout")
	}
}

func jobKey(botID, groupID string) string { return botID + ":" + groupID }

// UpdateJobs replaces the bot's entries with one per tracked group. Every
// entry carrying the bot's prefix is removed first, including entries for
// groups no longer configured. The first registration error is returned;
// later groups are still attempted.
func (s *Scheduler) UpdateJobs(botID string, configs []botcfg.TrackedGroupConfig, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeBotLocked(botID)

	var firstErr error
	for _, cfg := range configs {
		spec := cfg.CronSchedule
		if tz != "" {
			spec = "CRON_TZ=" + tz + " " + spec
		}
		id, err := s.cron.AddFunc(spec, func() { s.fire(botID, cfg) })
		if err != nil {
			s.logger.Error("tracking.schedule",
				"bot", botID, "group", cfg.GroupID, "spec", spec, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.entries[jobKey(botID, cfg.GroupID)] = id
		s.logger.Info("tracking.scheduled",
			"bot", botID, "group", cfg.GroupID, "spec", spec)
	}
	return firstErr
}

// StopTrackingJobs removes the bot's entries without re-adding; tracked data
// stays put. Returns how many entries were removed.
func (s *Scheduler) StopTrackingJobs(botID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeBotLocked(botID)
}

// HasJobs reports whether any entry carries the bot's prefix.
func (s *Scheduler) HasJobs(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := botID + ":"
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Entries returns the registered job keys, for diagnostics.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for key := range s.entries {
		out = append(out, key)
	}
	return out
}

// removeBotLocked scans the whole registry instead of trusting the caller's
// group list, so entries for dropped groups cannot linger.
func (s *Scheduler) removeBotLocked(botID string) int {
	prefix := botID + ":"
	n := 0
	for key, id := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		s.cron.Remove(id)
		delete(s.entries, key)
		n++
	}
	if n > 0 {
		s.logger.Info("tracking.jobs_removed", "bot", botID, "count", n)
	}
	return n
}
