package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
	"github.com/waclerk/waclerk/internal/store"
	"github.com/waclerk/waclerk/internal/store/memory"
)

// fakeLifecycle records calls and returns configured errors. Tests run
// requests sequentially, so no locking.
type fakeLifecycle struct {
	linkErr   error
	unlinkErr error
	reloadErr error
	deleteErr error
	providers map[string]provider.ChatProvider
	actions   []string
	stopped   []string
	started   []string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{providers: map[string]provider.ChatProvider{}}
}

func (f *fakeLifecycle) Link(_ context.Context, botID string) error {
	f.actions = append(f.actions, "link:"+botID)
	return f.linkErr
}

func (f *fakeLifecycle) Unlink(_ context.Context, botID string) error {
	f.actions = append(f.actions, "unlink:"+botID)
	return f.unlinkErr
}

func (f *fakeLifecycle) Reload(_ context.Context, botID string) error {
	f.actions = append(f.actions, "reload:"+botID)
	return f.reloadErr
}

func (f *fakeLifecycle) Delete(_ context.Context, botID string) error {
	f.actions = append(f.actions, "delete:"+botID)
	return f.deleteErr
}

func (f *fakeLifecycle) Provider(botID string) (provider.ChatProvider, bool) {
	p, ok := f.providers[botID]
	return p, ok
}

func (f *fakeLifecycle) StopOwnerBots(_ context.Context, userID string) int {
	f.stopped = append(f.stopped, userID)
	return 1
}

func (f *fakeLifecycle) StartOwnerBots(_ context.Context, userID string) int {
	f.started = append(f.started, userID)
	return 1
}

type fakeChatProvider struct {
	name      string
	status    provider.Status
	connected bool
	jid       string
	qr        string
	groups    []provider.GroupInfo
	groupsErr error
}

func (p *fakeChatProvider) Name() string                     { return p.name }
func (p *fakeChatProvider) Start(context.Context) error      { return nil }
func (p *fakeChatProvider) Stop(context.Context, bool) error { return nil }
func (p *fakeChatProvider) IsConnected() bool                { return p.connected }
func (p *fakeChatProvider) UserJID() string                  { return p.jid }
func (p *fakeChatProvider) QRCode() string                   { return p.qr }

func (p *fakeChatProvider) SendMessage(context.Context, string, string) error { return nil }

func (p *fakeChatProvider) SendFile(context.Context, string, []byte, string, string, string) error {
	return nil
}

func (p *fakeChatProvider) Status(context.Context, bool) (provider.Status, error) {
	return p.status, nil
}

func (p *fakeChatProvider) FetchGroupHistory(context.Context, string, int) ([]provider.HistoryMessage, error) {
	return nil, nil
}

func (p *fakeChatProvider) ListGroups(context.Context) ([]provider.GroupInfo, error) {
	return p.groups, p.groupsErr
}

type fixture struct {
	stores  *store.Stores
	lc      *fakeLifecycle
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.NewStores()
	lc := newFakeLifecycle()
	srv := New(Config{
		Stores:    stores,
		Lifecycle: lc,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &fixture{stores: stores, lc: lc, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (f *fixture) seedUser(t *testing.T, userID, role string) {
	t.Helper()
	now := time.Now().UTC()
	err := f.stores.Users.Create(context.Background(), store.User{
		UserID:       userID,
		PasswordHash: "seeded",
		Role:         role,
		OwnedBots:    []string{},
		Quota:        store.Quota{DollarsPerPeriod: 10, LastReset: now, ResetDays: 30, Enabled: true},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", userID, err)
	}
}

func (f *fixture) seedBot(t *testing.T, botID, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := f.stores.Bots.Put(ctx, testBotConfig(botID, userID)); err != nil {
		t.Fatalf("seed bot %s: %v", botID, err)
	}
	if err := f.stores.Users.AddOwnedBot(ctx, userID, botID); err != nil {
		t.Fatalf("claim bot %s: %v", botID, err)
	}
}

func testBotConfig(botID, userID string) botcfg.BotConfig {
	return botcfg.BotConfig{
		BotID:    botID,
		UserID:   userID,
		Provider: botcfg.ProviderConfig{Name: "whatsapp"},
		Queue:    queue.Bounds{MaxMessages: 50, MaxCharacters: 50000, MaxDays: 7, MaxCharactersPerMessage: 5000},
		Context:  botcfg.ContextConfig{MaxMessages: 50, MaxCharacters: 50000, MaxDays: 7, MaxCharactersPerMessage: 5000},
		Profile:  botcfg.Profile{Timezone: "UTC"},
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf(`body = %v, want {"status":"ok"}`, body)
	}
}

func TestSchemas_BotConfiguration(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/internal/schemas/bot_configuration", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var schema map[string]any
	decodeBody(t, rec, &schema)
	if schema["$id"] != "bot_configuration" {
		t.Errorf("$id = %v, want bot_configuration", schema["$id"])
	}
	if _, ok := schema["properties"]; !ok {
		t.Error("schema has no properties")
	}
}

// idsParam distinguishes an absent filter from a present-but-empty one: the
// gateway injects an empty parameter for owners with no bots.
func TestIDsParam(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want []string
	}{
		{name: "absent", url: "/x", want: nil},
		{name: "present empty", url: "/x?bot_ids=", want: []string{}},
		{name: "single", url: "/x?bot_ids=b1", want: []string{"b1"}},
		{name: "comma separated", url: "/x?bot_ids=b1,b2", want: []string{"b1", "b2"}},
		{name: "spaces and blanks", url: "/x?bot_ids=b1,%20b2,,", want: []string{"b1", "b2"}},
		{name: "repeated", url: "/x?bot_ids=b1&bot_ids=b2", want: []string{"b1", "b2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			got := idsParam(r, "bot_ids")
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
