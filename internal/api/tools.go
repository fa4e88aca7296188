package api

import (
	"net/http"

	"github.com/koopa0/parley/internal/log"
	"github.com/koopa0/parley/internal/tools"
)

// ToolsHandler exposes tool metadata for API consumers.
type ToolsHandler struct {
	enabled []string
	logger  log.Logger
}

// NewToolsHandler creates a handler listing the enabled tools. A nil enabled
// slice lists every tool.
func NewToolsHandler(enabled []string, logger log.Logger) *ToolsHandler {
	if enabled == nil {
		enabled = tools.Names()
	}
	return &ToolsHandler{enabled: enabled, logger: logger}
}

// RegisterRoutes registers tool routes on the given mux.
func (h *ToolsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tools", h.list)
}

// list returns the enabled tools with their parameter schemas.
func (h *ToolsHandler) list(w http.ResponseWriter, _ *http.Request) {
	infos, err := tools.InfosFor(h.enabled)
	if err != nil {
		h.logger.Error("failed to build tool metadata", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tools", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tools": infos,
		"count": len(infos),
	}, h.logger)
}
