package api

import (
	"encoding/json"
	"net/http"

	"github.com/koopa0/parley/internal/log"
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader there is no way to notify the client;
// the error is logged and the response left as-is.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errCode, message string, logger log.Logger) {
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message}, logger)
}
