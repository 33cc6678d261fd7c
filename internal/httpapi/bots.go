package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/lifecycle"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/store"
)

// BotsHandler serves bot configuration CRUD, lifecycle actions, and live
// session introspection.
type BotsHandler struct {
	bots   store.BotStore
	users  store.UserStore
	lc     Lifecycle
	logger *slog.Logger
}

func (h *BotsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/internal/bots", h.handleList)
	mux.HandleFunc("GET /api/internal/bots/status", h.handleStatuses)
	mux.HandleFunc("GET /api/internal/bots/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/internal/bots/{id}", h.handlePut)
	mux.HandleFunc("PATCH /api/internal/bots/{id}", h.handlePatch)
	mux.HandleFunc("DELETE /api/internal/bots/{id}", h.handleDelete)
	mux.HandleFunc("GET /api/internal/bots/{id}/info", h.handleInfo)
	mux.HandleFunc("GET /api/internal/bots/{id}/status", h.handleStatus)
	mux.HandleFunc("POST /api/internal/bots/{id}/actions/{action}", h.handleAction)
}

func (h *BotsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.bots.List(r.Context(), idsParam(r, "bot_ids"))
	if err != nil {
		h.logger.Error("httpapi.bots_list", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	if recs == nil {
		recs = []store.BotRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type botStatus struct {
	BotID     string `json:"bot_id"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// handleStatuses reports the live state of every (filtered) bot. Bots
// without a running session read as disconnected.
func (h *BotsHandler) handleStatuses(w http.ResponseWriter, r *http.Request) {
	recs, err := h.bots.List(r.Context(), idsParam(r, "bot_ids"))
	if err != nil {
		h.logger.Error("httpapi.bots_statuses", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	out := make([]botStatus, 0, len(recs))
	for _, rec := range recs {
		st := botStatus{BotID: rec.ConfigData.BotID, Status: string(provider.StatusDisconnected)}
		if prov, ok := h.lc.Provider(rec.ConfigData.BotID); ok {
			status, _ := prov.Status(r.Context(), false)
			st.Status = string(status)
			st.Connected = prov.IsConnected()
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BotsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.bots.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "bot not found")
			return
		}
		h.logger.Error("httpapi.bot_get", "bot", r.PathValue("id"), "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load bot")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePut upserts the full configuration document. Owner limits (max_bots
// on create, max_enabled_features always) are enforced here, where the owner
// document is at hand; 0 means unlimited.
func (h *BotsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	var cfg botcfg.BotConfig
	if err := readJSON(w, r, &cfg); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if cfg.BotID == "" {
		cfg.BotID = botID
	}
	if cfg.BotID != botID {
		writeErr(w, http.StatusBadRequest, "bot_id in body does not match path")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	owner, err := h.users.Get(ctx, cfg.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusBadRequest, "unknown user_id")
			return
		}
		h.logger.Error("httpapi.bot_put_owner", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load owner")
		return
	}
	if owner.MaxEnabledFeatures > 0 && cfg.EnabledFeatureCount() > owner.MaxEnabledFeatures {
		writeErr(w, http.StatusBadRequest, "max_enabled_features exceeded")
		return
	}

	existing, err := h.bots.Get(ctx, botID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if owner.MaxBots > 0 {
			owned, err := h.bots.ListByOwner(ctx, cfg.UserID)
			if err != nil {
				h.logger.Error("httpapi.bot_put_count", "bot", botID, "error", err)
				writeErr(w, http.StatusInternalServerError, "failed to count bots")
				return
			}
			if len(owned) >= owner.MaxBots {
				writeErr(w, http.StatusBadRequest, "max_bots reached")
				return
			}
		}
	case err != nil:
		h.logger.Error("httpapi.bot_put_get", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load bot")
		return
	}

	if err := h.bots.Put(ctx, cfg); err != nil {
		h.logger.Error("httpapi.bot_put", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to store bot")
		return
	}

	// Keep the owner's owned_bots in step with the document's user_id.
	if existing != nil && existing.ConfigData.UserID != cfg.UserID {
		if err := h.users.RemoveOwnedBot(ctx, existing.ConfigData.UserID, botID); err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("httpapi.bot_put_detach", "bot", botID, "error", err)
		}
	}
	if err := h.users.AddOwnedBot(ctx, cfg.UserID, botID); err != nil {
		h.logger.Error("httpapi.bot_put_attach", "bot", botID, "owner", cfg.UserID, "error", err)
	}

	rec, err := h.bots.Get(ctx, botID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *BotsHandler) handlePatch(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	var fields map[string]any
	if err := readJSON(w, r, &fields); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(fields) == 0 {
		writeErr(w, http.StatusBadRequest, "no fields to patch")
		return
	}
	if err := h.bots.Patch(r.Context(), botID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "bot not found")
			return
		}
		h.logger.Error("httpapi.bot_patch", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to patch bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *BotsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if err := h.lc.Delete(r.Context(), botID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "bot not found")
			return
		}
		h.logger.Error("httpapi.bot_delete", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleInfo returns live session details, including the platform group list
// when the session is connected.
func (h *BotsHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if _, err := h.bots.Get(r.Context(), botID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "bot not found")
			return
		}
		h.logger.Error("httpapi.bot_info", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load bot")
		return
	}
	prov, ok := h.lc.Provider(botID)
	if !ok {
		writeErr(w, http.StatusServiceUnavailable, "bot not linked")
		return
	}

	status, _ := prov.Status(r.Context(), false)
	info := map[string]any{
		"bot_id":    botID,
		"provider":  prov.Name(),
		"status":    string(status),
		"connected": prov.IsConnected(),
	}
	if jid := prov.UserJID(); jid != "" {
		info["user_jid"] = jid
	}
	if prov.IsConnected() {
		groups, err := prov.ListGroups(r.Context())
		if err != nil {
			h.logger.Warn("httpapi.bot_info_groups", "bot", botID, "error", err)
		} else {
			info["groups"] = groups
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// handleStatus returns {status, qr?} for one bot; no session reads as
// disconnected.
func (h *BotsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if _, err := h.bots.Get(r.Context(), botID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "bot not found")
			return
		}
		h.logger.Error("httpapi.bot_status", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load bot")
		return
	}

	resp := map[string]any{"status": string(provider.StatusDisconnected)}
	if prov, ok := h.lc.Provider(botID); ok {
		status, _ := prov.Status(r.Context(), false)
		resp["status"] = string(status)
		if status == provider.StatusQRPending {
			if qr := prov.QRCode(); qr != "" {
				resp["qr"] = qr
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BotsHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	action := r.PathValue("action")

	var err error
	switch action {
	case "link":
		err = h.lc.Link(r.Context(), botID)
	case "unlink":
		err = h.lc.Unlink(r.Context(), botID)
	case "reload":
		err = h.lc.Reload(r.Context(), botID)
	default:
		writeErr(w, http.StatusNotFound, "unknown action")
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"bot_id": botID, "action": action, "status": "ok",
		})
	case errors.Is(err, lifecycle.ErrAlreadyLinked):
		writeErr(w, http.StatusConflict, "bot already linked")
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, "bot not found")
	default:
		h.logger.Error("httpapi.bot_action", "bot", botID, "action", action, "error", err)
		writeErr(w, http.StatusServiceUnavailable, action+" failed: "+err.Error())
	}
}
