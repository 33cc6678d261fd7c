package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/prompts"
	"github.com/waclerk/waclerk/internal/store"
)

// Item is one actionable entry extracted from a tracked period. The deadline
// is owner-local wall time, "YYYY-MM-DD HH:MM".
type Item struct {
	Summary           string `json:"summary"`
	Description       string `json:"description"`
	Sender            string `json:"sender,omitempty"`
	TimestampDeadline string `json:"timestamp_deadline"`
	GroupDisplayName  string `json:"group_display_name,omitempty"`
}

// content renders the item as a delivery job payload.
func (it Item) content() map[string]any {
	out := map[string]any{
		"summary":            it.Summary,
		"description":        it.Description,
		"timestamp_deadline": it.TimestampDeadline,
	}
	if it.Sender != "" {
		out["sender"] = it.Sender
	}
	if it.GroupDisplayName != "" {
		out["group_display_name"] = it.GroupDisplayName
	}
	return out
}

// transcriptEntry is one captured message as the extraction prompt sees it,
// with the timestamp localized to the owner's timezone.
type transcriptEntry struct {
	When    string `json:"when"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// extract runs the two-stage pipeline: the low tier drafts an item list from
// the transcript, the high tier refines it. Refinement failures fall back to
// the draft; a draft failure yields nothing.
func (r *Runner) extract(ctx context.Context, bot botcfg.BotConfig, cfg botcfg.TrackedGroupConfig, msgs []store.PeriodMessage) []Item {
	log := r.logger.With("bot", bot.BotID, "group", cfg.GroupID)

	language := bot.Profile.Language
	if language == "" {
		language = "English"
	}
	timezone := bot.Profile.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	groupName := cfg.DisplayName
	if groupName == "" {
		groupName = cfg.GroupID
	}
	data := prompts.TrackingData{GroupName: groupName, Language: language, Timezone: timezone}

	loc := bot.Profile.Location()
	transcript := make([]transcriptEntry, 0, len(msgs))
	for _, m := range msgs {
		sender := m.SenderDisplay
		if sender == "" {
			sender = m.Sender
		}
		transcript = append(transcript, transcriptEntry{
			When:    time.UnixMilli(m.OriginatingTimeMS).In(loc).Format("2006-01-02 15:04"),
			Sender:  sender,
			Content: m.Content,
		})
	}
	payload, err := json.Marshal(transcript)
	if err != nil {
		log.Error("tracking.transcript", "error", err)
		return nil
	}

	draft, err := r.stage(ctx, llm.TierLow, bot.LLM.Low, bot, prompts.TrackingExtract, data, string(payload))
	if err != nil {
		log.Error("tracking.extract", "error", err)
		return nil
	}
	if len(draft) == 0 {
		return nil
	}

	items := draft
	if draftJSON, err := json.Marshal(draft); err == nil {
		refined, rerr := r.stage(ctx, llm.TierHigh, bot.LLM.High, bot, prompts.TrackingRefine, data, string(draftJSON))
		switch {
		case rerr != nil:
			log.Warn("tracking.refine_fallback", "error", rerr)
		case len(refined) > 0:
			items = refined
		}
	}

	for i := range items {
		items[i].GroupDisplayName = groupName
	}
	return items
}

// stage renders the template, runs one completion on the given tier, and
// parses the item list out of the response.
func (r *Runner) stage(ctx context.Context, tierName string, tier botcfg.TierConfig, bot botcfg.BotConfig, template string, data prompts.TrackingData, payload string) ([]Item, error) {
	system, err := r.prompts.Render(template, data)
	if err != nil {
		return nil, err
	}
	client, err := r.clients(tierName, tier, bot.UserID, bot.BotID)
	if err != nil {
		return nil, err
	}
	resp, err := client.Complete(ctx, llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: payload},
	}})
	if err != nil {
		return nil, err
	}
	return parseItems(resp.Content)
}

// parseItems decodes a JSON item array, tolerating markdown code fences and
// surrounding prose.
func parseItems(raw string) ([]Item, error) {
	cleaned := stripFences(raw)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in completion")
	}
	var items []Item
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json") on the opening fence line.
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
