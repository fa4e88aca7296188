package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/koopa0/parley/internal/chat"
	"github.com/koopa0/parley/internal/config"
	"github.com/koopa0/parley/internal/log"
)

// Orchestrator is the chat surface the handler needs.
// Satisfied by *chat.Chat.
type Orchestrator interface {
	Execute(ctx context.Context, sessionID, input string, opts chat.Options) (*chat.Result, error)
	ExecuteStream(ctx context.Context, sessionID, input string, opts chat.Options, callback chat.StreamCallback) (*chat.Result, error)
}

// ChatHandler handles the buffered and streaming chat endpoints.
//
// Endpoints:
//   - POST /api/chat        - synchronous chat (JSON request/response)
//   - POST /api/chat/stream - streaming chat (Server-Sent Events)
type ChatHandler struct {
	orchestrator Orchestrator
	logger       log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(orchestrator Orchestrator, logger log.Logger) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/stream", h.handleStream)
}

// ChatRequest is the request body for both chat endpoints.
type ChatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// validate rejects malformed input before orchestration begins.
func (req *ChatRequest) validate() error {
	if req.Message == "" {
		return fmt.Errorf("message is required")
	}
	if req.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(req.SessionID) > MaxSessionIDLength {
		return fmt.Errorf("session_id too long (max %d characters)", MaxSessionIDLength)
	}
	if req.Temperature != nil {
		if *req.Temperature < config.MinTemperature || *req.Temperature > config.MaxTemperature {
			return fmt.Errorf("temperature must be between %.1f and %.1f",
				config.MinTemperature, config.MaxTemperature)
		}
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens < config.MinMaxTokens || *req.MaxTokens > config.MaxMaxTokens {
			return fmt.Errorf("max_tokens must be between %d and %d",
				config.MinMaxTokens, config.MaxMaxTokens)
		}
	}
	return nil
}

func (req *ChatRequest) options() chat.Options {
	return chat.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens}
}

// ChatResponse is the response body for the buffered chat endpoint.
type ChatResponse struct {
	Response  string   `json:"response"`
	SessionID string   `json:"session_id"`
	ToolsUsed []string `json:"tools_used"`
}

// handleChat runs a buffered chat turn. Agent failures arrive here as
// ordinary results; only storage faults become 5xx.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	result, err := h.orchestrator.Execute(r.Context(), req.SessionID, req.Message, req.options())
	if err != nil {
		h.logger.Error("chat turn failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process chat", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:  result.Output,
		SessionID: req.SessionID,
		ToolsUsed: result.ToolsUsed,
	}, h.logger)
}

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream runs a streaming chat turn over Server-Sent Events.
//
// Event types:
//   - chunk: partial text {"text": "..."}
//   - done:  final response {"response": "...", "sessionId": "..."}
//   - error: failure {"code": "...", "message": "..."}
//
// Validation failures are reported as an error event on the stream; once
// chunks have been sent the HTTP status can no longer change, so mid-stream
// failures also arrive as error events.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", err.Error())
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started", "session_id", req.SessionID)

	result, err := h.orchestrator.ExecuteStream(ctx, req.SessionID, req.Message, req.options(),
		func(_ context.Context, chunk string) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			h.writeSSEChunk(w, flusher, chunk)
			return nil
		})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", req.SessionID)
			return
		}
		h.logger.Error("stream failed", "session_id", req.SessionID, "error", err)
		h.writeSSEError(w, flusher, "STREAM_ERROR", err.Error())
		return
	}

	h.writeSSEDone(w, flusher, result.Output, req.SessionID)
	h.logger.Info("SSE stream completed",
		"session_id", req.SessionID,
		"response_len", len(result.Output))
}

// writeSSEChunk writes a chunk event to the SSE stream.
func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes a done event to the SSE stream.
func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEError writes an error event to the SSE stream.
func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
