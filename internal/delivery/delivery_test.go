package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/waclerk/waclerk/internal/store"
	"github.com/waclerk/waclerk/internal/store/memory"
)

// fakeTarget records sends and can be flipped offline or made to fail.
type fakeTarget struct {
	connected bool
	sendErr   error

	sentTo   []string
	sentText []string

	fileTo      string
	fileName    string
	fileMime    string
	fileCaption string
	fileData    []byte
}

func (f *fakeTarget) IsConnected() bool { return f.connected }
func (f *fakeTarget) UserJID() string   { return "owner@s.whatsapp.net" }

func (f *fakeTarget) SendMessage(_ context.Context, recipient, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTo = append(f.sentTo, recipient)
	f.sentText = append(f.sentText, content)
	return nil
}

func (f *fakeTarget) SendFile(_ context.Context, recipient string, data []byte, filename, mimeType, caption string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.fileTo = recipient
	f.fileData = data
	f.fileName = filename
	f.fileMime = mimeType
	f.fileCaption = caption
	return nil
}

func testManager(t *testing.T, target *fakeTarget) (*Manager, store.DeliveryStore) {
	t.Helper()
	jobs := memory.NewDeliveryStore()
	lookup := func(botID string) (Target, bool) {
		if target == nil {
			return nil, false
		}
		return target, true
	}
	m := NewManager(jobs, lookup, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, jobs
}

func textJob(id string, attempts int) store.DeliveryJob {
	return store.DeliveryJob{
		MessageID: id,
		Metadata: store.DeliveryMetadata{Destination: store.Destination{
			UserID: "owner1", BotID: "bot1", ProviderName: "whatsapp",
		}},
		SendAttempts: attempts,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		MessageType:  store.DeliveryTypeText,
		Content:      map[string]any{"text": "hello"},
	}
}

func segmentLen(t *testing.T, jobs store.DeliveryStore, segment string) int {
	t.Helper()
	list, err := jobs.List(context.Background(), segment, "")
	if err != nil {
		t.Fatalf("List(%s): %v", segment, err)
	}
	return len(list)
}

func TestCycleDeliversTextAndDeletes(t *testing.T) {
	target := &fakeTarget{connected: true}
	m, jobs := testManager(t, target)
	if err := jobs.Enqueue(context.Background(), textJob("m1", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(target.sentText) != 1 || target.sentText[0] != "hello" {
		t.Errorf("sent = %v, want [hello]", target.sentText)
	}
	if target.sentTo[0] != "owner@s.whatsapp.net" {
		t.Errorf("recipient = %q, want the account's own JID", target.sentTo[0])
	}
	if n := segmentLen(t, jobs, store.SegmentActive); n != 0 {
		t.Errorf("active has %d jobs after success, want 0", n)
	}
}

func TestCycleSkipsOfflineBotWithoutMutation(t *testing.T) {
	target := &fakeTarget{connected: false}
	m, jobs := testManager(t, target)
	if err := jobs.Enqueue(context.Background(), textJob("m1", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	list, err := jobs.List(context.Background(), store.SegmentActive, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].SendAttempts != 0 {
		t.Errorf("job = %+v, want untouched in active", list)
	}
	if len(target.sentText) != 0 {
		t.Errorf("sent %v to an offline bot", target.sentText)
	}
}

func TestCycleSkipsUnknownBot(t *testing.T) {
	m, jobs := testManager(t, nil)
	if err := jobs.Enqueue(context.Background(), textJob("m1", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if n := segmentLen(t, jobs, store.SegmentActive); n != 1 {
		t.Errorf("active has %d jobs, want 1", n)
	}
}

func TestCycleDeadLettersExhaustedJob(t *testing.T) {
	target := &fakeTarget{connected: true}
	m, jobs := testManager(t, target)
	if err := jobs.Enqueue(context.Background(), textJob("m1", maxAttempts)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if n := segmentLen(t, jobs, store.SegmentFailed); n != 1 {
		t.Errorf("failed has %d jobs, want 1", n)
	}
	if n := segmentLen(t, jobs, store.SegmentActive); n != 0 {
		t.Errorf("active has %d jobs, want 0", n)
	}
	if len(target.sentText) != 0 {
		t.Errorf("exhausted job was still sent: %v", target.sentText)
	}
}

func TestCycleDeadLettersUnknownType(t *testing.T) {
	target := &fakeTarget{connected: true}
	m, jobs := testManager(t, target)
	job := textJob("m1", 0)
	job.MessageType = "carrier_pigeon"
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if n := segmentLen(t, jobs, store.SegmentFailed); n != 1 {
		t.Errorf("failed has %d jobs, want 1", n)
	}
}

// A processor failure keeps the job in active with the attempt already
// counted, so retries are bounded even when the send never reports success.
func TestCycleKeepsJobOnProcessorFailure(t *testing.T) {
	target := &fakeTarget{connected: true, sendErr: errors.New("bridge down")}
	m, jobs := testManager(t, target)
	if err := jobs.Enqueue(context.Background(), textJob("m1", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	list, err := jobs.List(context.Background(), store.SegmentActive, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("active has %d jobs, want 1", len(list))
	}
	if list[0].SendAttempts != 1 {
		t.Errorf("attempts = %d, want 1", list[0].SendAttempts)
	}
}

func TestCycleEmptyQueueIsNoop(t *testing.T) {
	m, _ := testManager(t, &fakeTarget{connected: true})
	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle on empty queue: %v", err)
	}
}

func TestActionableItemSendsCalendarAttachment(t *testing.T) {
	target := &fakeTarget{connected: true}
	m, jobs := testManager(t, target)
	job := textJob("m1", 0)
	job.MessageType = store.DeliveryTypeActionableItem
	job.Content = map[string]any{
		"summary":            "Pay club dues",
		"description":        "Before Monday evening.",
		"sender":             "Ana",
		"group_display_name": "Family",
		"timestamp_deadline": "2026-03-02 18:00",
	}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if target.fileMime != "text/calendar" {
		t.Errorf("mime = %q, want text/calendar", target.fileMime)
	}
	if !strings.HasSuffix(target.fileName, ".ics") {
		t.Errorf("filename = %q, want .ics suffix", target.fileName)
	}
	if !strings.Contains(target.fileCaption, "Pay club dues") {
		t.Errorf("caption does not mention the summary: %q", target.fileCaption)
	}
	if !strings.Contains(string(target.fileData), "DTEND:20260302T180000") {
		t.Errorf("ics missing deadline DTEND:\n%s", target.fileData)
	}
	if n := segmentLen(t, jobs, store.SegmentActive); n != 0 {
		t.Errorf("active has %d jobs after success, want 0", n)
	}
}

// A malformed deadline is a permanent failure: each cycle burns an attempt
// until the job dead-letters, rather than crashing the consumer.
func TestActionableItemBadDeadlineBurnsAttempts(t *testing.T) {
	target := &fakeTarget{connected: true}
	m, jobs := testManager(t, target)
	job := textJob("m1", 0)
	job.MessageType = store.DeliveryTypeActionableItem
	job.Content = map[string]any{"summary": "x", "timestamp_deadline": "tomorrowish"}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < maxAttempts+1; i++ {
		if err := m.cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	if n := segmentLen(t, jobs, store.SegmentFailed); n != 1 {
		t.Errorf("failed has %d jobs, want 1 after exhausting attempts", n)
	}
	if target.fileData != nil {
		t.Error("malformed job was sent")
	}
}

func TestHoldAllAndActivate(t *testing.T) {
	m, jobs := testManager(t, &fakeTarget{connected: true})
	ctx := context.Background()
	if err := jobs.Enqueue(ctx, textJob("m1", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	other := textJob("m2", 0)
	other.Metadata.Destination.BotID = "bot2"
	if err := jobs.Enqueue(ctx, other); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.HoldAll(ctx); err != nil {
		t.Fatalf("HoldAll: %v", err)
	}
	if n := segmentLen(t, jobs, store.SegmentActive); n != 0 {
		t.Fatalf("active has %d jobs after HoldAll, want 0", n)
	}

	m.Activate(ctx, "bot1")
	active, err := jobs.List(ctx, store.SegmentActive, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 1 || active[0].Metadata.Destination.BotID != "bot1" {
		t.Errorf("active = %+v, want only bot1's job", active)
	}

	m.Hold(ctx, "bot1")
	if n := segmentLen(t, jobs, store.SegmentActive); n != 0 {
		t.Errorf("active has %d jobs after Hold, want 0", n)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m, _ := testManager(t, &fakeTarget{connected: true})
	m.sleep = func() time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
