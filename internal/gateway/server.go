// Package gateway is the authentication edge in front of the backend API.
// It terminates session cookies, enforces per-resource permissions, and
// reverse-proxies /api/external onto the backend's /api/internal surface.
// The backend trusts everything arriving on its internal routes; this
// package is the reason it can.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/waclerk/waclerk/internal/config"
	"github.com/waclerk/waclerk/internal/store"
)

const (
	cookieName      = "session_id"
	sessionLifetime = 24 * time.Hour
	cacheTTL        = 3 * time.Minute

	// maxExternalBody caps request bodies at the edge so oversized
	// payloads never reach the backend.
	maxExternalBody = 80 << 10

	staleSessionAge   = 30 * 24 * time.Hour
	sessionPurgeEvery = 24 * time.Hour
	lockoutPurgeEvery = time.Hour
)

type ctxKey int

const (
	ctxKeySession ctxKey = iota
	ctxKeyDecision
)

// Server is the gateway process: the auth endpoints, the permission
// middleware, and the reverse proxy to the backend.
type Server struct {
	cfg        *config.Config
	stores     *store.Stores
	cache      *sessionCache
	limiter    *loginLimiter
	backend    *url.URL
	proxy      *httputil.ReverseProxy
	mux        *http.ServeMux
	logger     *slog.Logger
	httpServer *http.Server

	// now is swappable in tests.
	now func() time.Time
}

// New builds a gateway server against the given stores. The backend URL
// must carry a scheme and host.
func New(cfg *config.Config, stores *store.Stores, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := url.Parse(cfg.Gateway.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("backend url %q needs scheme and host", cfg.Gateway.BackendURL)
	}
	s := &Server{
		cfg:     cfg,
		stores:  stores,
		cache:   newSessionCache(cacheTTL),
		limiter: newLoginLimiter(cfg.Gateway.LoginRatePerMinute),
		backend: backend,
		logger:  logger.With("component", "gateway"),
		now:     time.Now,
	}
	s.proxy = s.newProxy()
	s.mux = s.buildMux()
	return s, nil
}

// Handler exposes the assembled mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /docs", s.handleDocs)
	mux.HandleFunc("POST /api/external/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/external/auth/logout", s.handleLogout)
	mux.Handle("GET /api/external/auth/validate", s.authenticated(http.HandlerFunc(s.handleValidate)))
	mux.Handle("/api/external/", s.authenticated(http.HandlerFunc(s.handleProxy)))
	return mux
}

// Start serves until ctx is canceled, then drains with a short grace
// period. Purge loops for stale sessions and expired lockouts run
// alongside the listener.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.runPurges(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("gateway.shutdown", "error", err)
		}
	}()

	s.logger.Info("gateway.start", "addr", addr, "backend", s.backend.String())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}

// authenticated enforces the body cap, the session cookie, and the
// permission check, then stashes session and decision on the request
// context for the proxy.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength > maxExternalBody {
				writeErr(w, http.StatusRequestEntityTooLarge, "request body exceeds 80KB")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxExternalBody)
		}

		sess := s.lookupSession(r)
		if sess == nil {
			s.clearCookie(w)
			writeErr(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s.touchSession(r.Context(), sess.SessionID)

		dec := checkPermission(r.Method, r.URL.Path, sess)
		if !dec.allowed {
			s.audit(r, store.AuditPermissionDenied, sess.UserID, map[string]any{
				"requested_path": r.URL.Path,
				"method":         r.Method,
			})
			writeErr(w, http.StatusForbidden, "forbidden")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeySession, sess)
		ctx = context.WithValue(ctx, ctxKeyDecision, dec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookupSession resolves the cookie to a live session, consulting the
// cache before the store. Expired sessions are treated as absent.
func (s *Server) lookupSession(r *http.Request) *store.Session {
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	now := s.now().UTC()
	if sess := s.cache.get(c.Value, now); sess != nil {
		return sess
	}
	sess, err := s.stores.Sessions.Get(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("gateway.session_get", "error", err)
		}
		return nil
	}
	if sess.Expired(now) {
		return nil
	}
	s.cache.put(sess, now)
	return sess
}

// touchSession records activity without moving the absolute expiry.
func (s *Server) touchSession(ctx context.Context, sessionID string) {
	now := s.now().UTC()
	s.cache.touch(sessionID, now)
	if err := s.stores.Sessions.Touch(ctx, sessionID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("gateway.session_touch", "error", err)
	}
}

func sessionFrom(ctx context.Context) *store.Session {
	sess, _ := ctx.Value(ctxKeySession).(*store.Session)
	return sess
}

func decisionFrom(ctx context.Context) decision {
	dec, _ := ctx.Value(ctxKeyDecision).(decision)
	return dec
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "waclerk-gateway",
		"docs":    "/docs",
		"health":  "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": []string{
			"POST /api/external/auth/login",
			"POST /api/external/auth/logout",
			"GET /api/external/auth/validate",
		},
		"bots": []string{
			"GET /api/external/bots",
			"GET /api/external/bots/status",
			"GET|PUT|PATCH|DELETE /api/external/bots/{bot_id}",
			"GET /api/external/bots/{bot_id}/status",
			"GET /api/external/bots/{bot_id}/info",
			"POST /api/external/bots/{bot_id}/{action}",
		},
		"users": []string{
			"GET /api/external/users",
			"GET /api/external/users/status",
			"POST /api/external/users",
			"GET|PUT|PATCH|DELETE /api/external/users/{user_id}",
			"PATCH /api/external/users/{user_id}/status",
		},
		"features": []string{
			"GET|DELETE /api/external/features/automatic_bot_reply/queue/{bot_id}[/{correspondent_id}]",
			"GET|DELETE /api/external/features/periodic_group_tracking/trackedGroupMessages/{bot_id}[/{group_id}]",
		},
		"delivery": []string{
			"GET|DELETE /api/external/async-message-delivery-queue/{segment}[/{id}]",
		},
		"events": []string{
			"GET /api/external/events/ws",
		},
		"schemas": []string{
			"GET /api/external/schemas/bot_configuration",
		},
	})
}

func (s *Server) runPurges(ctx context.Context) {
	s.purgeSessions(ctx)
	s.purgeLockouts(ctx)
	sessionTick := time.NewTicker(sessionPurgeEvery)
	lockoutTick := time.NewTicker(lockoutPurgeEvery)
	defer sessionTick.Stop()
	defer lockoutTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTick.C:
			s.purgeSessions(ctx)
		case <-lockoutTick.C:
			s.purgeLockouts(ctx)
		}
	}
}

func (s *Server) purgeSessions(ctx context.Context) {
	cutoff := s.now().UTC().Add(-staleSessionAge)
	n, err := s.stores.Sessions.PurgeStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("gateway.purge_sessions", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("gateway.purge_sessions", "removed", n)
	}
}

func (s *Server) purgeLockouts(ctx context.Context) {
	n, err := s.stores.Lockouts.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("gateway.purge_lockouts", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("gateway.purge_lockouts", "removed", n)
	}
}

// audit records a security event. Insert failures are logged, never
// surfaced to the caller.
func (s *Server) audit(r *http.Request, eventType, userID string, details map[string]any) {
	ev := store.AuditEvent{
		Timestamp: s.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Details:   details,
	}
	if err := s.stores.Audit.Insert(r.Context(), ev); err != nil {
		s.logger.Error("gateway.audit", "event", eventType, "error", err)
	}
}

func (s *Server) sessionCookie(sessionID string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.Gateway.CookieSecure,
	}
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	c := s.sessionCookie("", time.Time{})
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// clientIP prefers the first X-Forwarded-For hop so rate limiting works
// behind an ingress, falling back to the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
