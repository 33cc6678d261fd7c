package httpapi

import (
	"net/http"

	"github.com/waclerk/waclerk/internal/botcfg"
)

// SchemasHandler serves the JSON Schema documents that describe the
// public configuration shapes.
type SchemasHandler struct{}

func (h *SchemasHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/internal/schemas/bot_configuration", h.handleBotConfiguration)
}

func (h *SchemasHandler) handleBotConfiguration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, botcfg.Schema())
}
