package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/waclerk/waclerk/internal/events"
	"github.com/waclerk/waclerk/internal/store"
)

const (
	backendDialTimeout     = 10 * time.Second
	backendResponseTimeout = 30 * time.Second
	claimWriteTimeout      = 5 * time.Second
)

// newProxy builds the reverse proxy that maps /api/external/* onto the
// backend's /api/internal/* surface, path for path. WebSocket upgrades
// ride the same proxy.
func (s *Server) newProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.backend)
			pr.Out.URL.Path = internalPath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: backendDialTimeout}).DialContext,
			ResponseHeaderTimeout: backendResponseTimeout,
		},
		ModifyResponse: s.claimOnSuccess,
		ErrorHandler:   s.proxyError,
	}
}

func internalPath(external string) string {
	return "/api/internal/" + strings.TrimPrefix(external, "/api/external/")
}

// handleProxy applies the per-role rewrites and forwards. A non-admin list
// call with nothing owned never reaches the backend: the answer is a
// literal empty array either way.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	dec := decisionFrom(r.Context())
	admin := sess.Role == store.RoleAdmin

	switch dec.inject {
	case injectBotIDs:
		if !admin {
			if len(sess.OwnedBots) == 0 {
				writeJSON(w, http.StatusOK, []any{})
				return
			}
			q := r.URL.Query()
			q.Set("bot_ids", strings.Join(sess.OwnedBots, ","))
			r.URL.RawQuery = q.Encode()
		}
	case injectUserIDs:
		if !admin {
			q := r.URL.Query()
			q.Set("user_ids", sess.UserID)
			r.URL.RawQuery = q.Encode()
		}
	case injectEventBots:
		// The hub reads a missing header as unrestricted, so admins get
		// none and everyone else gets their exact owned set, empty
		// included.
		if admin {
			r.Header.Del(events.BotsHeader)
		} else {
			r.Header.Set(events.BotsHeader, strings.Join(sess.OwnedBots, ","))
		}
	}

	s.proxy.ServeHTTP(w, r)
}

// claimOnSuccess runs after the backend accepted a non-admin PUT to a bot
// resource. The caller becomes an owner: credentials document first, then
// the stored session, then the cache. A detached context lets the writes
// finish even if the client hangs up.
func (s *Server) claimOnSuccess(resp *http.Response) error {
	dec := decisionFrom(resp.Request.Context())
	if !dec.claim || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	sess := sessionFrom(resp.Request.Context())
	if sess == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), claimWriteTimeout)
	defer cancel()
	if err := s.stores.Users.AddOwnedBot(ctx, sess.UserID, dec.id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("gateway.claim", "user", sess.UserID, "bot", dec.id, "error", err)
	}
	if err := s.stores.Sessions.AddOwnedBot(ctx, sess.SessionID, dec.id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("gateway.claim_session", "session", sess.SessionID, "error", err)
	}
	s.cache.addOwnedBot(sess.SessionID, dec.id)
	return nil
}

func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("gateway.proxy", "method", r.Method, "path", r.URL.Path, "error", err)
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		writeErr(w, http.StatusGatewayTimeout, "backend timed out")
		return
	}
	writeErr(w, http.StatusBadGateway, "backend unavailable")
}
