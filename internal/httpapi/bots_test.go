package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/lifecycle"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/store"
)

func TestBots_ListHonorsFilter(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	f.seedBot(t, "b1", "alice")
	f.seedBot(t, "b2", "alice")
	f.seedBot(t, "b3", "alice")

	tests := []struct {
		name string
		url  string
		want int
	}{
		{name: "no filter lists all", url: "/api/internal/bots", want: 3},
		{name: "filter to two", url: "/api/internal/bots?bot_ids=b1,b3", want: 2},
		{name: "empty filter lists none", url: "/api/internal/bots?bot_ids=", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.url, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var recs []store.BotRecord
			decodeBody(t, rec, &recs)
			if len(recs) != tt.want {
				t.Errorf("got %d bots, want %d", len(recs), tt.want)
			}
		})
	}

	// The empty filter must still be a JSON array, not null: the gateway
	// relies on a uniform list shape.
	rec := f.do(t, http.MethodGet, "/api/internal/bots?bot_ids=", nil)
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("empty list body = %q, want []", got)
	}
}

func TestBots_PutCreatesAndClaims(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)

	rec := f.do(t, http.MethodPut, "/api/internal/bots/b1", testBotConfig("b1", "alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stored store.BotRecord
	decodeBody(t, rec, &stored)
	if stored.ConfigData.BotID != "b1" || stored.CreatedAt.IsZero() {
		t.Errorf("stored = %+v, want b1 with timestamps", stored)
	}

	owner, err := f.stores.Users.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if len(owner.OwnedBots) != 1 || owner.OwnedBots[0] != "b1" {
		t.Errorf("owned_bots = %v, want [b1]", owner.OwnedBots)
	}
}

func TestBots_PutValidation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)

	badTimezone := testBotConfig("b1", "alice")
	badTimezone.Profile.Timezone = "Mars/Olympus"

	tests := []struct {
		name string
		path string
		body botcfg.BotConfig
	}{
		{name: "body and path disagree", path: "/api/internal/bots/b1", body: testBotConfig("b2", "alice")},
		{name: "unknown owner", path: "/api/internal/bots/b1", body: testBotConfig("b1", "ghost")},
		{name: "invalid config", path: "/api/internal/bots/b1", body: badTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestBots_PutEnforcesOwnerLimits(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	ctx := context.Background()
	if err := f.stores.Users.Update(ctx, "alice", map[string]any{"max_bots": 1, "max_enabled_features": 1}); err != nil {
		t.Fatalf("set limits: %v", err)
	}
	f.seedBot(t, "b1", "alice")

	// Second bot exceeds max_bots.
	rec := f.do(t, http.MethodPut, "/api/internal/bots/b2", testBotConfig("b2", "alice"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create over max_bots: status = %d, want 400", rec.Code)
	}

	// Updating the existing bot stays allowed.
	rec = f.do(t, http.MethodPut, "/api/internal/bots/b1", testBotConfig("b1", "alice"))
	if rec.Code != http.StatusOK {
		t.Errorf("update existing: status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	over := testBotConfig("b1", "alice")
	over.Features = map[string]botcfg.FeatureConfig{
		botcfg.FeatureAutoReply:     {Enabled: true},
		botcfg.FeatureGroupTracking: {Enabled: true},
	}
	rec = f.do(t, http.MethodPut, "/api/internal/bots/b1", over)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("over max_enabled_features: status = %d, want 400", rec.Code)
	}
}

func TestBots_PutOwnerChangeMovesClaim(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	f.seedUser(t, "bob", store.RoleUser)
	f.seedBot(t, "b1", "alice")

	rec := f.do(t, http.MethodPut, "/api/internal/bots/b1", testBotConfig("b1", "bob"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	alice, _ := f.stores.Users.Get(ctx, "alice")
	bob, _ := f.stores.Users.Get(ctx, "bob")
	if len(alice.OwnedBots) != 0 {
		t.Errorf("alice still owns %v", alice.OwnedBots)
	}
	if len(bob.OwnedBots) != 1 || bob.OwnedBots[0] != "b1" {
		t.Errorf("bob owns %v, want [b1]", bob.OwnedBots)
	}
}

func TestBots_GetAndPatch(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	f.seedBot(t, "b1", "alice")

	if rec := f.do(t, http.MethodGet, "/api/internal/bots/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get ghost: status = %d, want 404", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/internal/bots/b1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPatch, "/api/internal/bots/b1", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch: status = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPatch, "/api/internal/bots/b1", map[string]any{"activated": true}); rec.Code != http.StatusOK {
		t.Errorf("patch: status = %d, want 200", rec.Code)
	}
	got, err := f.stores.Bots.Get(context.Background(), "b1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.ConfigData.Activated {
		t.Error("patch did not set activated")
	}
}

func TestBots_DeleteDelegatesToLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodDelete, "/api/internal/bots/b1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.lc.actions) != 1 || f.lc.actions[0] != "delete:b1" {
		t.Errorf("lifecycle calls = %v, want [delete:b1]", f.lc.actions)
	}

	f.lc.deleteErr = store.ErrNotFound
	if rec := f.do(t, http.MethodDelete, "/api/internal/bots/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete ghost: status = %d, want 404", rec.Code)
	}
}

func TestBots_Statuses(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	f.seedBot(t, "b1", "alice")
	f.seedBot(t, "b2", "alice")
	f.lc.providers["b1"] = &fakeChatProvider{name: "whatsapp", status: provider.StatusConnected, connected: true}

	rec := f.do(t, http.MethodGet, "/api/internal/bots/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var statuses []botStatus
	decodeBody(t, rec, &statuses)
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	byID := map[string]botStatus{}
	for _, st := range statuses {
		byID[st.BotID] = st
	}
	if st := byID["b1"]; st.Status != "connected" || !st.Connected {
		t.Errorf("b1 = %+v, want connected", st)
	}
	// A bot without a running session reads as disconnected.
	if st := byID["b2"]; st.Status != "disconnected" || st.Connected {
		t.Errorf("b2 = %+v, want disconnected", st)
	}
}

func TestBots_StatusCarriesQROnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	f.seedBot(t, "b1", "alice")
	prov := &fakeChatProvider{name: "whatsapp", status: provider.StatusQRPending, qr: "2@pairing-blob"}
	f.lc.providers["b1"] = prov

	rec := f.do(t, http.MethodGet, "/api/internal/bots/b1/status", nil)
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "qr_pending" || body["qr"] != "2@pairing-blob" {
		t.Errorf("body = %v, want qr_pending with code", body)
	}

	prov.status = provider.StatusConnected
	rec = f.do(t, http.MethodGet, "/api/internal/bots/b1/status", nil)
	body = nil
	decodeBody(t, rec, &body)
	if body["status"] != "connected" {
		t.Errorf("status = %v, want connected", body["status"])
	}
	if _, ok := body["qr"]; ok {
		t.Error("qr leaked outside qr_pending")
	}
}

func TestBots_InfoRequiresLinkedSession(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", store.RoleUser)
	f.seedBot(t, "b1", "alice")

	if rec := f.do(t, http.MethodGet, "/api/internal/bots/ghost/info", nil); rec.Code != http.StatusNotFound {
		t.Errorf("ghost: status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/internal/bots/b1/info", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unlinked: status = %d, want 503", rec.Code)
	}

	f.lc.providers["b1"] = &fakeChatProvider{
		name:      "whatsapp",
		status:    provider.StatusConnected,
		connected: true,
		jid:       "5511999999999@s.whatsapp.net",
		groups:    []provider.GroupInfo{{ID: "g1@g.us", DisplayName: "family"}},
	}
	rec := f.do(t, http.MethodGet, "/api/internal/bots/b1/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("linked: status = %d", rec.Code)
	}
	var info map[string]any
	decodeBody(t, rec, &info)
	if info["user_jid"] != "5511999999999@s.whatsapp.net" {
		t.Errorf("user_jid = %v", info["user_jid"])
	}
	groups, ok := info["groups"].([]any)
	if !ok || len(groups) != 1 {
		t.Errorf("groups = %v, want one entry", info["groups"])
	}
}

func TestBots_Actions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		action     string
		err        error
		wantStatus int
	}{
		{name: "link ok", action: "link", wantStatus: http.StatusOK},
		{name: "already linked", action: "link", err: lifecycle.ErrAlreadyLinked, wantStatus: http.StatusConflict},
		{name: "unknown bot", action: "link", err: store.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "bridge down", action: "reload", err: context.DeadlineExceeded, wantStatus: http.StatusServiceUnavailable},
		{name: "unknown action", action: "reboot", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.lc.linkErr, f.lc.reloadErr = tt.err, tt.err
			rec := f.do(t, http.MethodPost, "/api/internal/bots/b1/actions/"+tt.action, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestBots_UnlinkAction(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/internal/bots/b1/actions/unlink", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["action"] != "unlink" || body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if len(f.lc.actions) != 1 || f.lc.actions[0] != "unlink:b1" {
		t.Errorf("lifecycle calls = %v", f.lc.actions)
	}
}
