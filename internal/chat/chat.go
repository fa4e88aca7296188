// Package chat orchestrates a single conversational turn: it resolves the
// session, loads ordered history, invokes the agent, and persists the user
// and assistant messages.
//
// Error policy: agent and tool failures never cross this package's boundary
// as errors. They are degraded into ordinary assistant content ("I
// encountered an error: ...") so the conversation keeps its continuity, and
// the degraded reply is persisted like any other turn. Only storage failures
// propagate to the transport layer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koopa0/parley/internal/log"
	"github.com/koopa0/parley/internal/session"
)

// Turn is one prior conversation turn passed to the agent as history.
type Turn struct {
	Role    string
	Content string
}

// Options carries per-request generation overrides. Nil fields mean "use the
// configured default".
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// Result is the outcome of one completed chat turn.
type Result struct {
	Output    string
	ToolsUsed []string
}

// StreamCallback receives each text chunk as the agent produces it.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk string) error

// Agent is the external capability producing assistant output from history
// plus new input. Interfaces are defined here, by the consumer.
type Agent interface {
	// Generate produces a complete response in one call.
	Generate(ctx context.Context, history []Turn, input string, opts Options) (*Result, error)

	// GenerateStream produces the response incrementally through callback.
	// The chunk sequence is finite and non-restartable; a nil error means
	// the producer signalled normal end-of-stream.
	GenerateStream(ctx context.Context, history []Turn, input string, opts Options, callback StreamCallback) error
}

// SessionRegistry is the session-lifecycle surface the orchestrator needs.
// Satisfied by *session.Store.
type SessionRegistry interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Create(ctx context.Context, id string, metadata map[string]any) (bool, error)
}

// MessageLog is the message-history surface the orchestrator needs.
// Satisfied by *session.Store.
type MessageLog interface {
	Append(ctx context.Context, sessionID, role, content string, metadata map[string]any) (*session.Message, error)
	Messages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error)
}

// Config contains the required dependencies for the orchestrator.
type Config struct {
	Registry SessionRegistry
	Log      MessageLog
	Agent    Agent
	Logger   log.Logger
}

func (cfg Config) validate() error {
	if cfg.Registry == nil {
		return errors.New("session registry is required")
	}
	if cfg.Log == nil {
		return errors.New("message log is required")
	}
	if cfg.Agent == nil {
		return errors.New("agent is required")
	}
	return nil
}

// Chat coordinates one conversational turn per request. It holds no mutable
// state of its own; all state lives in the storage backend, so a single Chat
// serves concurrent requests.
type Chat struct {
	registry SessionRegistry
	log      MessageLog
	agent    Agent
	logger   log.Logger
}

// New creates a Chat orchestrator. Dependencies are injected explicitly;
// there is no package-level instance.
func New(cfg Config) (*Chat, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Chat{
		registry: cfg.Registry,
		log:      cfg.Log,
		agent:    cfg.Agent,
		logger:   logger,
	}, nil
}

// Execute runs one buffered chat turn: the agent is invoked synchronously
// and the full response is returned at once.
//
// If the agent fails, the failure is converted into a user-visible apology,
// persisted as the assistant message, and returned as a normal result.
func (c *Chat) Execute(ctx context.Context, sessionID, input string, opts Options) (*Result, error) {
	history, err := c.beginTurn(ctx, sessionID, input)
	if err != nil {
		return nil, err
	}

	result, err := c.agent.Generate(ctx, history, input, opts)
	if err != nil {
		c.logger.Error("agent invocation failed", "session_id", sessionID, "error", err)
		result = &Result{
			Output:    apology(err),
			ToolsUsed: []string{},
		}
	}
	if result.ToolsUsed == nil {
		result.ToolsUsed = []string{}
	}

	meta := map[string]any{"tools_used": result.ToolsUsed}
	if _, err := c.log.Append(ctx, sessionID, session.RoleAssistant, result.Output, meta); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	return result, nil
}

// ExecuteStream runs one streaming chat turn. Each chunk is forwarded to
// callback immediately and accumulated; only when the producer signals normal
// end-of-stream is the concatenated text persisted as a single assistant
// message.
//
// If production is interrupted, by a producer fault or consumer
// cancellation, nothing is persisted: the client may have seen partial
// output that will never appear in history.
func (c *Chat) ExecuteStream(ctx context.Context, sessionID, input string, opts Options, callback StreamCallback) (*Result, error) {
	history, err := c.beginTurn(ctx, sessionID, input)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	err = c.agent.GenerateStream(ctx, history, input, opts, func(ctx context.Context, chunk string) error {
		full.WriteString(chunk)
		return callback(ctx, chunk)
	})
	if err != nil {
		c.logger.Error("stream interrupted, assistant turn not persisted",
			"session_id", sessionID, "partial_len", full.Len(), "error", err)
		return nil, fmt.Errorf("agent stream failed: %w", err)
	}

	output := full.String()
	if _, err := c.log.Append(ctx, sessionID, session.RoleAssistant, output, nil); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	return &Result{Output: output, ToolsUsed: []string{}}, nil
}

// beginTurn is the common prefix of both modes: resolve or create the
// session, load ordered history, and persist the incoming user message.
// The returned history excludes the current user turn; the agent receives it
// separately as explicit input.
func (c *Chat) beginTurn(ctx context.Context, sessionID, input string) ([]Turn, error) {
	if _, err := c.registry.Get(ctx, sessionID); err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
		// Idempotent create: the loser of a concurrent first-contact race
		// observes created=false and proceeds as a normal participant.
		if _, err := c.registry.Create(ctx, sessionID, nil); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		c.logger.Info("created session on first contact", "session_id", sessionID)
	}

	messages, err := c.log.Messages(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	history := make([]Turn, len(messages))
	for i, m := range messages {
		history[i] = Turn{Role: m.Role, Content: m.Content}
	}

	if _, err := c.log.Append(ctx, sessionID, session.RoleUser, input, nil); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	return history, nil
}

// apology renders an agent failure as conversational content.
func apology(err error) string {
	return fmt.Sprintf("I encountered an error: %v. Please try again.", err)
}
