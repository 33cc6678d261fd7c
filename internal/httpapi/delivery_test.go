package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/waclerk/waclerk/internal/store"
)

func enqueueJob(t *testing.T, f *fixture, messageID, botID string) {
	t.Helper()
	err := f.stores.Delivery.Enqueue(context.Background(), store.DeliveryJob{
		MessageID: messageID,
		Metadata: store.DeliveryMetadata{
			Destination: store.Destination{UserID: "alice", BotID: botID, ProviderName: "whatsapp"},
		},
		CreatedAt:   time.Now().UTC(),
		MessageType: store.DeliveryTypeText,
		Content:     map[string]any{"message_content": "ping"},
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", messageID, err)
	}
}

func TestDelivery_ListSegmentsAndFilter(t *testing.T) {
	f := newFixture(t)
	enqueueJob(t, f, "m1", "b1")
	enqueueJob(t, f, "m2", "b2")

	rec := f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var jobs []store.DeliveryJob
	decodeBody(t, rec, &jobs)
	if len(jobs) != 2 {
		t.Errorf("active has %d jobs, want 2", len(jobs))
	}

	rec = f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/active?bot_ids=b1", nil)
	jobs = nil
	decodeBody(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].MessageID != "m1" {
		t.Errorf("filtered jobs = %+v, want only m1", jobs)
	}

	if rec := f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/archived", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown segment: status = %d, want 404", rec.Code)
	}
}

// The external segment name "unconnected" reads the holding collection.
func TestDelivery_UnconnectedReadsHolding(t *testing.T) {
	f := newFixture(t)
	enqueueJob(t, f, "m1", "b1")
	if _, err := f.stores.Delivery.MoveToHolding(context.Background(), "b1"); err != nil {
		t.Fatalf("park: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/unconnected", nil)
	var jobs []store.DeliveryJob
	decodeBody(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].MessageID != "m1" {
		t.Errorf("unconnected = %+v, want the parked m1", jobs)
	}

	rec = f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/active", nil)
	jobs = nil
	decodeBody(t, rec, &jobs)
	if len(jobs) != 0 {
		t.Errorf("active still has %d jobs", len(jobs))
	}
}

func TestDelivery_GetAndDeleteByID(t *testing.T) {
	f := newFixture(t)
	enqueueJob(t, f, "m1", "b1")

	rec := f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/active/m1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var job store.DeliveryJob
	decodeBody(t, rec, &job)
	if job.MessageID != "m1" || job.Metadata.Destination.BotID != "b1" {
		t.Errorf("job = %+v", job)
	}

	if rec := f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/active/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get ghost: status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/internal/async-message-delivery-queue/active/m1", nil)
	var deleted map[string]int64
	decodeBody(t, rec, &deleted)
	if deleted["deleted"] != 1 {
		t.Errorf("deleted = %d, want 1", deleted["deleted"])
	}
	if rec := f.do(t, http.MethodDelete, "/api/internal/async-message-delivery-queue/active/m1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}

func TestDelivery_DeleteSegment(t *testing.T) {
	f := newFixture(t)
	enqueueJob(t, f, "m1", "b1")
	enqueueJob(t, f, "m2", "b1")
	enqueueJob(t, f, "m3", "b2")

	rec := f.do(t, http.MethodDelete, "/api/internal/async-message-delivery-queue/active?bot_ids=b1", nil)
	var deleted map[string]int64
	decodeBody(t, rec, &deleted)
	if deleted["deleted"] != 2 {
		t.Errorf("deleted = %d, want b1's 2 jobs", deleted["deleted"])
	}

	var jobs []store.DeliveryJob
	rec = f.do(t, http.MethodGet, "/api/internal/async-message-delivery-queue/active", nil)
	decodeBody(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].MessageID != "m3" {
		t.Errorf("remaining = %+v, want only m3", jobs)
	}
}
