package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/waclerk/waclerk/internal/store"
)

// externalSegments maps the URL segment names to stored segments. The
// queue parks jobs for unconnected bots in holding.
var externalSegments = map[string]string{
	"active":      store.SegmentActive,
	"failed":      store.SegmentFailed,
	"unconnected": store.SegmentHolding,
}

// DeliveryHandler exposes the delivery queue segments for inspection and
// manual cleanup.
type DeliveryHandler struct {
	jobs   store.DeliveryStore
	logger *slog.Logger
}

func (h *DeliveryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/internal/async-message-delivery-queue/{segment}", h.handleList)
	mux.HandleFunc("DELETE /api/internal/async-message-delivery-queue/{segment}", h.handleDeleteAll)
	mux.HandleFunc("GET /api/internal/async-message-delivery-queue/{segment}/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/internal/async-message-delivery-queue/{segment}/{id}", h.handleDelete)
}

func (h *DeliveryHandler) listSegment(r *http.Request, segment string) ([]store.DeliveryJob, error) {
	botIDs := idsParam(r, "bot_ids")
	if botIDs == nil {
		return h.jobs.List(r.Context(), segment, "")
	}
	jobs := []store.DeliveryJob{}
	for _, botID := range botIDs {
		part, err := h.jobs.List(r.Context(), segment, botID)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, part...)
	}
	return jobs, nil
}

func (h *DeliveryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	segment, ok := externalSegments[r.PathValue("segment")]
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown delivery segment")
		return
	}
	jobs, err := h.listSegment(r, segment)
	if err != nil {
		h.logger.Error("httpapi.delivery_list", "segment", segment, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list delivery jobs")
		return
	}
	if jobs == nil {
		jobs = []store.DeliveryJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *DeliveryHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	segment, ok := externalSegments[r.PathValue("segment")]
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown delivery segment")
		return
	}
	messageID := r.PathValue("id")
	jobs, err := h.jobs.List(r.Context(), segment, "")
	if err != nil {
		h.logger.Error("httpapi.delivery_get", "segment", segment, "message", messageID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to load delivery job")
		return
	}
	for _, job := range jobs {
		if job.MessageID == messageID {
			writeJSON(w, http.StatusOK, job)
			return
		}
	}
	writeErr(w, http.StatusNotFound, "delivery job not found")
}

func (h *DeliveryHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	segment, ok := externalSegments[r.PathValue("segment")]
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown delivery segment")
		return
	}
	messageID := r.PathValue("id")
	n, err := h.jobs.Delete(r.Context(), segment, messageID)
	if err != nil {
		h.logger.Error("httpapi.delivery_delete", "segment", segment, "message", messageID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to delete delivery job")
		return
	}
	if n == 0 {
		writeErr(w, http.StatusNotFound, "delivery job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *DeliveryHandler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	segment, ok := externalSegments[r.PathValue("segment")]
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown delivery segment")
		return
	}
	jobs, err := h.listSegment(r, segment)
	if err != nil {
		h.logger.Error("httpapi.delivery_delete_all", "segment", segment, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list delivery jobs")
		return
	}
	var deleted int64
	for _, job := range jobs {
		n, err := h.jobs.Delete(r.Context(), segment, job.MessageID)
		if err != nil {
			h.logger.Error("httpapi.delivery_delete_all", "segment", segment, "message", job.MessageID, "error", err)
			continue
		}
		deleted += n
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
