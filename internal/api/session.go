package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/koopa0/parley/internal/log"
	"github.com/koopa0/parley/internal/session"
)

// Session list pagination bounds.
const (
	DefaultListLimit   = 100
	MaxListLimit       = 1000
	MaxListOffset      = 100000
	MaxSessionIDLength = 128
)

// SessionStore is the session CRUD surface the handler needs.
// Satisfied by *session.Store.
type SessionStore interface {
	Create(ctx context.Context, id string, metadata map[string]any) (bool, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	List(ctx context.Context, limit, offset int) ([]*session.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// SessionHandler handles session-related HTTP endpoints.
type SessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store SessionStore, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

// CreateSessionRequest is the request body for creating a session.
// session_id is optional; a UUID is generated when absent.
type CreateSessionRequest struct {
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
}

// create creates a session. Returns 201 with the session info when newly
// created, 200 when the id already existed (create is idempotent).
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	if len(req.SessionID) > MaxSessionIDLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id too long (max 128 characters)", h.logger)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	created, err := h.store.Create(r.Context(), req.SessionID, req.Metadata)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session", h.logger)
		return
	}

	sess, err := h.store.Get(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("failed to load created session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load session", h.logger)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sess, h.logger)
}

// list returns sessions ordered by recency of activity.
// Query parameters:
//   - limit: maximum sessions to return (default: 100, max: 1000)
//   - offset: sessions to skip (default: 0)
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions", h.logger)
		return
	}

	resp := map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// get returns a single session's info, message count included.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("failed to get session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get session", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sess, h.logger)
}

// delete removes a session and all its messages.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete session", h.logger)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "session_id": id}, h.logger)
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
