package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/waclerk/waclerk/internal/store"
)

const (
	lockoutThreshold = 10
	lockoutWindow    = 10 * time.Minute
	lockoutDuration  = 5 * time.Minute
)

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// handleLogin authenticates a user and mints a session with a fixed 24h
// lifetime. Order matters: the rate limit is checked before the body is
// read, the lockout before the hash comparison.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if retry, ok := s.limiter.Allow(ip); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
		s.audit(r, store.AuditLoginFailed, "", map[string]any{"reason": "rate_limited"})
		writeErr(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxExternalBody)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Password == "" {
		writeErr(w, http.StatusBadRequest, "body must carry user_id and password")
		return
	}

	ctx := r.Context()
	now := s.now().UTC()

	lock, err := s.stores.Lockouts.Get(ctx, req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("gateway.login", "user", req.UserID, "error", err)
		writeErr(w, http.StatusInternalServerError, "lockout lookup failed")
		return
	}
	if lock != nil && lock.Locked(now) {
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(lock.LockedUntil.Sub(now))))
		s.audit(r, store.AuditLoginFailed, req.UserID, map[string]any{"reason": "account_locked"})
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":        "account locked",
			"locked_until": lock.LockedUntil,
		})
		return
	}

	user, err := s.stores.Users.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.failLogin(w, r, req.UserID, lock)
			return
		}
		s.logger.Error("gateway.login", "user", req.UserID, "error", err)
		writeErr(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.failLogin(w, r, req.UserID, lock)
		return
	}

	// Success clears the failure history.
	if lock != nil {
		if lock.LockedUntil != nil {
			s.audit(r, store.AuditAccountUnlocked, req.UserID, nil)
		}
		if err := s.stores.Lockouts.Clear(ctx, req.UserID); err != nil {
			s.logger.Error("gateway.lockout_clear", "user", req.UserID, "error", err)
		}
	}

	sess := store.Session{
		SessionID:    uuid.NewString(),
		UserID:       user.UserID,
		Role:         user.Role,
		OwnedBots:    append([]string(nil), user.OwnedBots...),
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(sessionLifetime),
		IP:           ip,
		UserAgent:    r.UserAgent(),
	}
	if err := s.stores.Sessions.Create(ctx, sess); err != nil {
		s.logger.Error("gateway.session_create", "user", req.UserID, "error", err)
		writeErr(w, http.StatusInternalServerError, "session create failed")
		return
	}
	s.cache.put(&sess, now)
	http.SetCookie(w, s.sessionCookie(sess.SessionID, sess.ExpiresAt))
	s.audit(r, store.AuditLoginSuccess, user.UserID, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    user.UserID,
		"role":       user.Role,
		"expires_at": sess.ExpiresAt,
	})
}

// failLogin records the failed attempt, arming the lockout on the attempt
// that reaches the threshold, and answers with a deliberately generic 401.
// An expired lock starts a clean slate rather than re-arming instantly.
func (s *Server) failLogin(w http.ResponseWriter, r *http.Request, userID string, lock *store.Lockout) {
	now := s.now().UTC()
	stale := lock == nil ||
		now.Sub(lock.LastAttempt) > lockoutWindow ||
		(lock.LockedUntil != nil && !lock.Locked(now))
	if stale {
		lock = &store.Lockout{UserID: userID}
	}
	lock.FailedAttempts++
	lock.LastAttempt = now
	if lock.FailedAttempts >= lockoutThreshold && lock.LockedUntil == nil {
		until := now.Add(lockoutDuration)
		lock.LockedUntil = &until
		s.audit(r, store.AuditAccountLocked, userID, map[string]any{
			"failed_attempts": lock.FailedAttempts,
			"locked_until":    until,
		})
	}
	if err := s.stores.Lockouts.Upsert(r.Context(), *lock); err != nil {
		s.logger.Error("gateway.lockout_upsert", "user", userID, "error", err)
	}
	s.audit(r, store.AuditLoginFailed, userID, map[string]any{"reason": "invalid_credentials"})
	s.clearCookie(w)
	writeErr(w, http.StatusUnauthorized, "invalid credentials")
}

// handleLogout is idempotent: with or without a live session the reply is
// 200 and the cookie is cleared.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		userID := ""
		if sess, err := s.stores.Sessions.Get(r.Context(), c.Value); err == nil {
			userID = sess.UserID
		}
		if err := s.stores.Sessions.Invalidate(r.Context(), c.Value, "logout", s.now().UTC()); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("gateway.logout", "error", err)
		}
		s.cache.remove(c.Value)
		s.audit(r, store.AuditLogout, userID, nil)
	}
	s.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleValidate answers behind the auth middleware, so reaching it means
// the cookie resolved to a live session.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"user_id":    sess.UserID,
		"role":       sess.Role,
		"expires_at": sess.ExpiresAt,
	})
}

func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
