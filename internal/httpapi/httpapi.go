// Package httpapi serves the backend's internal REST surface under
// /api/internal. The gateway is the only intended caller: it authenticates,
// authorizes, and rewrites /api/external/* to these routes, so handlers
// trust the request identity and enforce only resource-level rules
// (validation, owner limits, last-admin protection).
//
// List endpoints return bare JSON arrays and honor the gateway's
// ?user_ids=/?bot_ids= ownership filters; the empty filter (parameter
// present, no values) yields an empty array.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/store"
)

// maxBodyBytes caps decoded request bodies. The gateway clamps external
// bodies at 80 KB already; this is the backend's own line.
const maxBodyBytes = 1 << 20

// Lifecycle is the bot-session surface the handlers drive.
type Lifecycle interface {
	Link(ctx context.Context, botID string) error
	Unlink(ctx context.Context, botID string) error
	Reload(ctx context.Context, botID string) error
	Delete(ctx context.Context, botID string) error
	Provider(botID string) (provider.ChatProvider, bool)
	StopOwnerBots(ctx context.Context, userID string) int
	StartOwnerBots(ctx context.Context, userID string) int
}

// Config assembles the backend API server.
type Config struct {
	Stores    *store.Stores
	Lifecycle Lifecycle
	// Events, when set, is mounted at GET /api/internal/events/ws.
	Events http.Handler
	Logger *slog.Logger
}

// Server is the backend's internal HTTP API.
type Server struct {
	mux *http.ServeMux
}

// New wires every handler group onto one mux.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)

	bots := &BotsHandler{bots: cfg.Stores.Bots, users: cfg.Stores.Users, lc: cfg.Lifecycle, logger: logger}
	bots.RegisterRoutes(mux)
	users := &UsersHandler{users: cfg.Stores.Users, lc: cfg.Lifecycle, logger: logger}
	users.RegisterRoutes(mux)
	features := &FeaturesHandler{queues: cfg.Stores.Queues, tracking: cfg.Stores.Tracking, logger: logger}
	features.RegisterRoutes(mux)
	delivery := &DeliveryHandler{jobs: cfg.Stores.Delivery, logger: logger}
	delivery.RegisterRoutes(mux)
	(&SchemasHandler{}).RegisterRoutes(mux)

	if cfg.Events != nil {
		mux.Handle("GET /api/internal/events/ws", cfg.Events)
	}
	return &Server{mux: mux}
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a size-capped request body.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

// idsParam parses a comma-separated multi-id query parameter. nil means the
// parameter is absent (no filter); a non-nil empty slice means present but
// empty (filter to nothing).
func idsParam(r *http.Request, name string) []string {
	values, present := r.URL.Query()[name]
	if !present {
		return nil
	}
	out := []string{}
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
