package tokens

import (
	"context"
	"time"
)

// ResetInterval is how often the quota sweep runs.
const ResetInterval = 24 * time.Hour

// RunResetLoop sweeps due quotas until ctx is cancelled. The first sweep
// happens immediately so a restart does not postpone overdue resets.
func (s *Service) RunResetLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = ResetInterval
	}
	s.SweepResets(ctx, time.Now().UTC())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepResets(ctx, time.Now().UTC())
		}
	}
}

// SweepResets resets every due quota and fires the restored hook per owner.
// Returns the number of owners reset.
func (s *Service) SweepResets(ctx context.Context, now time.Time) int {
	due, err := s.stores.Users.ListDueForReset(ctx, now)
	if err != nil {
		s.logger.Error("tokens.sweep_list", "error", err)
		return 0
	}
	reset := 0
	for _, user := range due {
		if err := s.stores.Users.ResetQuota(ctx, user.UserID, now); err != nil {
			s.logger.Error("tokens.sweep_reset", "user", user.UserID, "error", err)
			continue
		}
		reset++
		s.logger.Info("tokens.quota_reset",
			"user", user.UserID,
			"previous_used", user.Quota.DollarsUsed,
			"period_days", user.Quota.ResetDays)
		if s.onRestored != nil {
			s.onRestored(ctx, user.UserID)
		}
	}
	return reset
}
