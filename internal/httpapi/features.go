package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/waclerk/waclerk/internal/store"
)

// FeaturesHandler exposes the per-feature data stores: archived reply
// queues and tracked group periods. GETs return bare arrays, DELETEs the
// number of removed documents.
type FeaturesHandler struct {
	queues   store.QueueStore
	tracking store.TrackingStore
	logger   *slog.Logger
}

func (h *FeaturesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/internal/features/automatic_bot_reply/queue/{bot_id}", h.handleQueueByBot)
	mux.HandleFunc("DELETE /api/internal/features/automatic_bot_reply/queue/{bot_id}", h.handleQueueDeleteBot)
	mux.HandleFunc("GET /api/internal/features/automatic_bot_reply/queue/{bot_id}/{correspondent_id}", h.handleQueueByCorrespondent)
	mux.HandleFunc("DELETE /api/internal/features/automatic_bot_reply/queue/{bot_id}/{correspondent_id}", h.handleQueueDeleteCorrespondent)

	mux.HandleFunc("GET /api/internal/features/periodic_group_tracking/trackedGroupMessages/{bot_id}", h.handleTrackingByBot)
	mux.HandleFunc("DELETE /api/internal/features/periodic_group_tracking/trackedGroupMessages/{bot_id}", h.handleTrackingDeleteBot)
	mux.HandleFunc("GET /api/internal/features/periodic_group_tracking/trackedGroupMessages/{bot_id}/{group_id}", h.handleTrackingByGroup)
	mux.HandleFunc("DELETE /api/internal/features/periodic_group_tracking/trackedGroupMessages/{bot_id}/{group_id}", h.handleTrackingDeleteGroup)
}

func (h *FeaturesHandler) handleQueueByBot(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	msgs, err := h.queues.ListByBot(r.Context(), botID)
	if err != nil {
		h.logger.Error("httpapi.queue_list", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list queue")
		return
	}
	if msgs == nil {
		msgs = []store.ArchivedMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *FeaturesHandler) handleQueueByCorrespondent(w http.ResponseWriter, r *http.Request) {
	botID, corrID := r.PathValue("bot_id"), r.PathValue("correspondent_id")
	msgs, err := h.queues.ListByCorrespondent(r.Context(), botID, corrID)
	if err != nil {
		h.logger.Error("httpapi.queue_list", "bot", botID, "correspondent", corrID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list queue")
		return
	}
	if msgs == nil {
		msgs = []store.ArchivedMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *FeaturesHandler) handleQueueDeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	n, err := h.queues.DeleteByBot(r.Context(), botID)
	if err != nil {
		h.logger.Error("httpapi.queue_delete", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *FeaturesHandler) handleQueueDeleteCorrespondent(w http.ResponseWriter, r *http.Request) {
	botID, corrID := r.PathValue("bot_id"), r.PathValue("correspondent_id")
	n, err := h.queues.DeleteByCorrespondent(r.Context(), botID, corrID)
	if err != nil {
		h.logger.Error("httpapi.queue_delete", "bot", botID, "correspondent", corrID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *FeaturesHandler) handleTrackingByBot(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	periods, err := h.tracking.ListPeriods(r.Context(), botID, "")
	if err != nil {
		h.logger.Error("httpapi.tracking_list", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list tracked periods")
		return
	}
	if periods == nil {
		periods = []store.TrackedPeriod{}
	}
	writeJSON(w, http.StatusOK, periods)
}

func (h *FeaturesHandler) handleTrackingByGroup(w http.ResponseWriter, r *http.Request) {
	botID, groupID := r.PathValue("bot_id"), r.PathValue("group_id")
	periods, err := h.tracking.ListPeriods(r.Context(), botID, groupID)
	if err != nil {
		h.logger.Error("httpapi.tracking_list", "bot", botID, "group", groupID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list tracked periods")
		return
	}
	if periods == nil {
		periods = []store.TrackedPeriod{}
	}
	writeJSON(w, http.StatusOK, periods)
}

func (h *FeaturesHandler) handleTrackingDeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	n, err := h.tracking.DeleteBot(r.Context(), botID)
	if err != nil {
		h.logger.Error("httpapi.tracking_delete", "bot", botID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete tracking data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *FeaturesHandler) handleTrackingDeleteGroup(w http.ResponseWriter, r *http.Request) {
	botID, groupID := r.PathValue("bot_id"), r.PathValue("group_id")
	n, err := h.tracking.DeleteGroup(r.Context(), botID, groupID)
	if err != nil {
		h.logger.Error("httpapi.tracking_delete", "bot", botID, "group", groupID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete tracking data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
