package tracking

import (
	"context"
	"sort"

	"github.com/waclerk/waclerk/internal/store"
)

// History exposes tracked data to the management API: period listings,
// flattened message views, and cleanup.
type History struct {
	store store.TrackingStore
}

func NewHistory(s store.TrackingStore) *History { return &History{store: s} }

// GetTrackedPeriods lists captured periods, newest first. An empty groupID
// lists every group of the bot.
func (h *History) GetTrackedPeriods(ctx context.Context, botID, groupID string) ([]store.TrackedPeriod, error) {
	return h.store.ListPeriods(ctx, botID, groupID)
}

// GetGroupMessages flattens a group's periods into one chronological list.
func (h *History) GetGroupMessages(ctx context.Context, botID, groupID string) ([]store.PeriodMessage, error) {
	periods, err := h.store.ListPeriods(ctx, botID, groupID)
	if err != nil {
		return nil, err
	}
	var out []store.PeriodMessage
	for _, p := range periods {
		out = append(out, p.Messages...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OriginatingTimeMS < out[j].OriginatingTimeMS
	})
	return out, nil
}

// ListGroups returns metadata for every group the bot has tracked.
func (h *History) ListGroups(ctx context.Context, botID string) ([]store.TrackedGroup, error) {
	return h.store.ListGroups(ctx, botID)
}

// DeleteGroupData removes one group's metadata, periods, and run state.
func (h *History) DeleteGroupData(ctx context.Context, botID, groupID string) (int64, error) {
	return h.store.DeleteGroup(ctx, botID, groupID)
}

// DeleteBotData removes everything tracked for a bot.
func (h *History) DeleteBotData(ctx context.Context, botID string) (int64, error) {
	return h.store.DeleteBot(ctx, botID)
}
