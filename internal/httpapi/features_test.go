package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/waclerk/waclerk/internal/queue"
	"github.com/waclerk/waclerk/internal/store"
)

func archiveMessage(t *testing.T, f *fixture, botID, corrID string, id int64, content string) {
	t.Helper()
	err := f.stores.Queues.Archive(context.Background(), store.ArchivedMessage{
		BotID:           botID,
		ProviderName:    "whatsapp",
		CorrespondentID: corrID,
		Message: queue.Message{
			ID:             id,
			Content:        content,
			Sender:         queue.Party{Identifier: corrID},
			Source:         queue.SourceUser,
			AcceptedTimeMS: time.Now().UnixMilli(),
		},
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
}

func TestFeatures_QueueListAndDelete(t *testing.T) {
	f := newFixture(t)
	archiveMessage(t, f, "b1", "c1", 1, "hello")
	archiveMessage(t, f, "b1", "c1", 2, "again")
	archiveMessage(t, f, "b1", "c2", 1, "other contact")
	archiveMessage(t, f, "b2", "c1", 1, "other bot")

	rec := f.do(t, http.MethodGet, "/api/internal/features/automatic_bot_reply/queue/b1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list bot: status = %d", rec.Code)
	}
	var msgs []store.ArchivedMessage
	decodeBody(t, rec, &msgs)
	if len(msgs) != 3 {
		t.Errorf("bot queue has %d messages, want 3", len(msgs))
	}

	rec = f.do(t, http.MethodGet, "/api/internal/features/automatic_bot_reply/queue/b1/c1", nil)
	msgs = nil
	decodeBody(t, rec, &msgs)
	if len(msgs) != 2 {
		t.Errorf("correspondent queue has %d messages, want 2", len(msgs))
	}

	rec = f.do(t, http.MethodDelete, "/api/internal/features/automatic_bot_reply/queue/b1/c1", nil)
	var deleted map[string]int64
	decodeBody(t, rec, &deleted)
	if deleted["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", deleted["deleted"])
	}

	rec = f.do(t, http.MethodDelete, "/api/internal/features/automatic_bot_reply/queue/b1", nil)
	deleted = nil
	decodeBody(t, rec, &deleted)
	if deleted["deleted"] != 1 {
		t.Errorf("deleted = %d, want the remaining 1", deleted["deleted"])
	}

	// The other bot's archive is untouched.
	rec = f.do(t, http.MethodGet, "/api/internal/features/automatic_bot_reply/queue/b2", nil)
	msgs = nil
	decodeBody(t, rec, &msgs)
	if len(msgs) != 1 {
		t.Errorf("b2 queue has %d messages, want 1", len(msgs))
	}
}

func TestFeatures_QueueEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/internal/features/automatic_bot_reply/queue/ghost", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want []", got)
	}
}

func saveTrackedPeriod(t *testing.T, f *fixture, botID, groupID string, endMS int64) {
	t.Helper()
	err := f.stores.Tracking.SaveResult(context.Background(),
		store.TrackedGroup{BotID: botID, GroupID: groupID, DisplayName: groupID},
		&store.TrackedPeriod{
			BotID:         botID,
			GroupID:       groupID,
			PeriodStartMS: endMS - 3600_000,
			PeriodEndMS:   endMS,
			MessageCount:  1,
			Messages: []store.PeriodMessage{
				{Sender: "m1", Content: "hi", Source: "user", OriginatingTimeMS: endMS - 60_000},
			},
		},
		store.TrackingState{BotID: botID, GroupID: groupID, LastRunMS: endMS},
	)
	if err != nil {
		t.Fatalf("save period: %v", err)
	}
}

func TestFeatures_TrackingListAndDelete(t *testing.T) {
	f := newFixture(t)
	saveTrackedPeriod(t, f, "b1", "g1", 1_000_000)
	saveTrackedPeriod(t, f, "b1", "g1", 2_000_000)
	saveTrackedPeriod(t, f, "b1", "g2", 1_500_000)

	rec := f.do(t, http.MethodGet, "/api/internal/features/periodic_group_tracking/trackedGroupMessages/b1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list bot: status = %d", rec.Code)
	}
	var periods []store.TrackedPeriod
	decodeBody(t, rec, &periods)
	if len(periods) != 3 {
		t.Errorf("bot has %d periods, want 3", len(periods))
	}

	rec = f.do(t, http.MethodGet, "/api/internal/features/periodic_group_tracking/trackedGroupMessages/b1/g1", nil)
	periods = nil
	decodeBody(t, rec, &periods)
	if len(periods) != 2 {
		t.Errorf("group has %d periods, want 2", len(periods))
	}

	rec = f.do(t, http.MethodDelete, "/api/internal/features/periodic_group_tracking/trackedGroupMessages/b1/g1", nil)
	var deleted map[string]int64
	decodeBody(t, rec, &deleted)
	if deleted["deleted"] == 0 {
		t.Error("delete group removed nothing")
	}

	rec = f.do(t, http.MethodGet, "/api/internal/features/periodic_group_tracking/trackedGroupMessages/b1", nil)
	periods = nil
	decodeBody(t, rec, &periods)
	if len(periods) != 1 || periods[0].GroupID != "g2" {
		t.Errorf("remaining periods = %+v, want only g2", periods)
	}
}
