// Package agent adapts the Genkit generation pipeline to the orchestrator's
// Agent interface: it renders conversation history into model messages,
// resolves tool references, applies per-request generation overrides, and
// shields callers from transient provider failures with bounded retries.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/koopa0/parley/internal/chat"
	"github.com/koopa0/parley/internal/log"
	"github.com/koopa0/parley/internal/session"
)

const defaultSystemPrompt = "You are a helpful assistant. Use the available tools when they " +
	"can answer the user's question more reliably than you can. Be concise."

// Config contains the settings for building an Agent.
type Config struct {
	Genkit *genkit.Genkit

	// Model is the provider-qualified model name, e.g. "googleai/gemini-2.5-flash".
	Model string

	// SystemPrompt overrides the default system instruction when non-empty.
	SystemPrompt string

	// Temperature and MaxTokens are the defaults applied when a request
	// carries no override.
	Temperature float64
	MaxTokens   int

	// MaxTurns bounds tool-call round trips within one generation.
	MaxTurns int

	// RequestTimeout is the wall-clock budget for one generation, retries
	// included. Zero disables the timeout.
	RequestTimeout time.Duration

	// ToolNames lists the tools the model may call. Each must already be
	// defined on the Genkit instance.
	ToolNames []string

	Retry RetryConfig

	// RequestsPerSecond throttles outbound model calls. Zero means no
	// client-side throttle.
	RequestsPerSecond float64
	Burst             int

	Logger log.Logger
}

// Agent generates assistant responses through Genkit. It is stateless across
// calls and safe for concurrent use.
type Agent struct {
	g            *genkit.Genkit
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	maxTurns     int
	timeout      time.Duration
	toolRefs     []ai.ToolRef
	retry        RetryConfig
	limiter      *rate.Limiter
	logger       log.Logger
}

// New creates an Agent. All named tools must be registered on g before this
// is called; an unknown name is a wiring bug and fails construction.
func New(cfg Config) (*Agent, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}

	toolRefs := make([]ai.ToolRef, 0, len(cfg.ToolNames))
	for _, name := range cfg.ToolNames {
		tool := genkit.LookupTool(cfg.Genkit, name)
		if tool == nil {
			return nil, fmt.Errorf("tool %q is not registered", name)
		}
		toolRefs = append(toolRefs, tool)
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 && retryCfg.InitialInterval == 0 {
		retryCfg = DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Agent{
		g:            cfg.Genkit,
		model:        cfg.Model,
		systemPrompt: systemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxTurns:     maxTurns,
		timeout:      cfg.RequestTimeout,
		toolRefs:     toolRefs,
		retry:        retryCfg,
		limiter:      limiter,
		logger:       logger,
	}, nil
}

// Generate produces a complete response for input given prior history.
func (a *Agent) Generate(ctx context.Context, history []chat.Turn, input string, opts chat.Options) (*chat.Result, error) {
	resp, err := a.generate(ctx, history, input, opts, nil)
	if err != nil {
		return nil, err
	}

	return &chat.Result{
		Output:    resp.Text(),
		ToolsUsed: toolsUsed(resp),
	}, nil
}

// GenerateStream produces the response incrementally, forwarding each text
// chunk to callback.
func (a *Agent) GenerateStream(ctx context.Context, history []chat.Turn, input string, opts chat.Options, callback chat.StreamCallback) error {
	streamCb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		text := chunk.Text()
		if text == "" {
			return nil
		}
		return callback(ctx, text)
	}

	_, err := a.generate(ctx, history, input, opts, streamCb)
	return err
}

func (a *Agent) generate(ctx context.Context, history []chat.Turn, input string, opts chat.Options, streamCb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	messages := make([]*ai.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	genOpts := []ai.GenerateOption{
		ai.WithModelName(a.model),
		ai.WithSystem(a.systemPrompt),
		ai.WithMessages(messages...),
		ai.WithMaxTurns(a.maxTurns),
		ai.WithConfig(a.generationConfig(opts)),
	}
	if len(a.toolRefs) > 0 {
		genOpts = append(genOpts, ai.WithTools(a.toolRefs...))
	}
	if streamCb != nil {
		genOpts = append(genOpts, ai.WithStreaming(streamCb))
	}

	a.logger.Debug("invoking model",
		"model", a.model,
		"history_len", len(history),
		"tools", len(a.toolRefs),
		"streaming", streamCb != nil,
	)

	return a.generateWithRetry(ctx, genOpts)
}

// generationConfig merges per-request overrides onto configured defaults.
func (a *Agent) generationConfig(opts chat.Options) *genai.GenerateContentConfig {
	temperature := a.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	maxTokens := a.maxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	return cfg
}

// toolsUsed extracts the distinct tool names the model invoked during the
// generation, in first-use order.
func toolsUsed(resp *ai.ModelResponse) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, msg := range resp.History() {
		if msg.Role != ai.RoleModel {
			continue
		}
		for _, part := range msg.Content {
			if part.IsToolRequest() && !seen[part.ToolRequest.Name] {
				seen[part.ToolRequest.Name] = true
				names = append(names, part.ToolRequest.Name)
			}
		}
	}
	return names
}
