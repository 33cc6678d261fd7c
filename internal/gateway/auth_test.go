package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/waclerk/waclerk/internal/config"
	"github.com/waclerk/waclerk/internal/store"
	"github.com/waclerk/waclerk/internal/store/memory"
)

type fixture struct {
	stores *store.Stores
	srv    *Server
	clock  time.Time
}

func newFixture(t *testing.T, backendURL string) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Gateway.BackendURL = backendURL
	f := &fixture{
		stores: memory.NewStores(),
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	srv, err := New(cfg, f.stores, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.now = func() time.Time { return f.clock }
	srv.limiter.now = srv.now
	f.srv = srv
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

// seedUser stores a user with a real (cheap) bcrypt hash so login exercises
// the comparison path.
func (f *fixture) seedUser(t *testing.T, userID, password, role string, bots ...string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	err = f.stores.Users.Create(context.Background(), store.User{
		UserID:       userID,
		PasswordHash: string(hash),
		Role:         role,
		OwnedBots:    append([]string{}, bots...),
		CreatedAt:    f.clock,
		UpdatedAt:    f.clock,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", userID, err)
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, userID, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"user_id": userID, "password": password})
	if err != nil {
		t.Fatalf("marshal login body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/external/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51000"
	return f.do(t, req)
}

func (f *fixture) get(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:51000"
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return f.do(t, req)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatal("response carries no session cookie")
	return nil
}

func (f *fixture) auditEvents(t *testing.T) []store.AuditEvent {
	t.Helper()
	mem, ok := f.stores.Audit.(*memory.AuditStore)
	if !ok {
		t.Fatal("audit store is not the in-memory implementation")
	}
	return mem.Events()
}

func hasAudit(events []store.AuditEvent, eventType string) bool {
	for _, ev := range events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

func TestLogin_SuccessSetsSessionCookie(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser, "b1")

	rec := f.login(t, "alice", "hunter2secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	c := sessionCookie(t, rec)
	if c.Value == "" {
		t.Fatal("session cookie has no value")
	}
	if !c.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}

	var body struct {
		UserID    string    `json:"user_id"`
		Role      string    `json:"role"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.UserID != "alice" || body.Role != store.RoleUser {
		t.Errorf("body = %+v", body)
	}
	if want := f.clock.Add(24 * time.Hour); !body.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", body.ExpiresAt, want)
	}

	sess, err := f.stores.Sessions.Get(context.Background(), c.Value)
	if err != nil {
		t.Fatalf("stored session: %v", err)
	}
	if sess.UserID != "alice" || len(sess.OwnedBots) != 1 {
		t.Errorf("session = %+v", sess)
	}
	if !hasAudit(f.auditEvents(t), store.AuditLoginSuccess) {
		t.Error("no login_success audit event")
	}
}

func TestLogin_BadCredentialsAreGeneric(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser)

	wrongPw := f.login(t, "alice", "not-the-password")
	noUser := f.login(t, "nobody", "whatever-pass")
	if wrongPw.Code != http.StatusUnauthorized || noUser.Code != http.StatusUnauthorized {
		t.Fatalf("codes = %d, %d, want 401 for both", wrongPw.Code, noUser.Code)
	}
	if wrongPw.Body.String() != noUser.Body.String() {
		t.Errorf("error bodies differ: %q vs %q", wrongPw.Body.String(), noUser.Body.String())
	}
	if !hasAudit(f.auditEvents(t), store.AuditLoginFailed) {
		t.Error("no login_failed audit event")
	}
}

func TestLogin_MissingFieldsRejected(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	req := httptest.NewRequest(http.MethodPost, "/api/external/auth/login", bytes.NewReader([]byte(`{"user_id":"alice"}`)))
	req.RemoteAddr = "203.0.113.7:51000"
	if rec := f.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogin_RateLimitBoundary(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser)

	for i := 0; i < 10; i++ {
		if rec := f.login(t, "alice", "hunter2secret"); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := f.login(t, "alice", "hunter2secret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th attempt: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 carries no Retry-After header")
	}

	f.advance(time.Minute)
	if rec := f.login(t, "alice", "hunter2secret"); rec.Code != http.StatusOK {
		t.Fatalf("first attempt after window: status = %d, want 200", rec.Code)
	}
}

func TestLogin_LockoutAfterTenFailures(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser)

	for i := 0; i < 10; i++ {
		if rec := f.login(t, "alice", "wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}

	lock, err := f.stores.Lockouts.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("lockout row: %v", err)
	}
	if lock.LockedUntil == nil {
		t.Fatal("10th failure did not arm the lockout")
	}
	if want := f.clock.Add(5 * time.Minute); !lock.LockedUntil.Equal(want) {
		t.Errorf("locked_until = %v, want %v", lock.LockedUntil, want)
	}
	if !hasAudit(f.auditEvents(t), store.AuditAccountLocked) {
		t.Error("no account_locked audit event")
	}

	// While locked even the right password is refused. Jump past the
	// rate-limit window so the 423 is the lockout speaking.
	f.advance(time.Minute)
	rec := f.login(t, "alice", "hunter2secret")
	if rec.Code != http.StatusLocked {
		t.Fatalf("status = %d, want 423: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("423 carries no Retry-After header")
	}
	var body struct {
		LockedUntil time.Time `json:"locked_until"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 423 body: %v", err)
	}
	if body.LockedUntil.IsZero() {
		t.Error("423 body carries no locked_until")
	}

	// Once the lock expires the right password works and clears history.
	f.advance(5 * time.Minute)
	if rec := f.login(t, "alice", "hunter2secret"); rec.Code != http.StatusOK {
		t.Fatalf("post-lock login: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if _, err := f.stores.Lockouts.Get(context.Background(), "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("lockout row survived a successful login: %v", err)
	}
	if !hasAudit(f.auditEvents(t), store.AuditAccountUnlocked) {
		t.Error("no account_unlocked audit event")
	}
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser)
	c := sessionCookie(t, f.login(t, "alice", "hunter2secret"))

	logout := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/external/auth/logout", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		req.AddCookie(c)
		return f.do(t, req)
	}

	first := logout()
	if first.Code != http.StatusOK {
		t.Fatalf("first logout: status = %d, want 200", first.Code)
	}
	cleared := sessionCookie(t, first)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Errorf("first logout did not clear the cookie: %+v", cleared)
	}
	if _, err := f.stores.Sessions.Get(context.Background(), c.Value); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session survived logout: %v", err)
	}
	stale := f.stores.Sessions.(*memory.SessionStore).Stale()
	if len(stale) != 1 || stale[0].Reason != "logout" {
		t.Errorf("stale archive = %+v, want one entry with reason logout", stale)
	}

	second := logout()
	if second.Code != http.StatusOK {
		t.Fatalf("second logout: status = %d, want 200", second.Code)
	}
	if !hasAudit(f.auditEvents(t), store.AuditLogout) {
		t.Error("no logout audit event")
	}
}

func TestValidate_RequiresCookie(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser)

	if rec := f.get(t, "/api/external/auth/validate", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status = %d, want 401", rec.Code)
	}
	bogus := &http.Cookie{Name: cookieName, Value: "bogus"}
	if rec := f.get(t, "/api/external/auth/validate", bogus); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus cookie: status = %d, want 401", rec.Code)
	}

	c := sessionCookie(t, f.login(t, "alice", "hunter2secret"))
	rec := f.get(t, "/api/external/auth/validate", c)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Valid  bool   `json:"valid"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Valid || body.UserID != "alice" {
		t.Errorf("body = %+v", body)
	}
}

func TestSession_AbsoluteExpiry(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:9")
	f.seedUser(t, "alice", "hunter2secret", store.RoleUser)
	c := sessionCookie(t, f.login(t, "alice", "hunter2secret"))

	// Activity keeps last_accessed moving but never the expiry.
	f.advance(23 * time.Hour)
	if rec := f.get(t, "/api/external/auth/validate", c); rec.Code != http.StatusOK {
		t.Fatalf("before expiry: status = %d, want 200", rec.Code)
	}
	f.advance(time.Hour + time.Second)
	if rec := f.get(t, "/api/external/auth/validate", c); rec.Code != http.StatusUnauthorized {
		t.Fatalf("after expiry: status = %d, want 401", rec.Code)
	}
}
