// Package tools provides the agent's tool layer: expression evaluation, web
// search, and a weather report, plus the metadata the HTTP API exposes about
// them.
//
// Tool failures are conversational, not exceptional: each handler method
// returns a descriptive string for anything the user could plausibly cause
// (a malformed expression, a query with no results) and reserves its error
// return for infrastructure faults. The model reads the failure text and
// recovers on its own.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/koopa0/parley/internal/log"
)

const defaultSearchBaseURL = "https://api.duckduckgo.com"

// Config controls handler behavior. The zero value is usable; empty fields
// fall back to defaults.
type Config struct {
	// SearchBaseURL overrides the DuckDuckGo endpoint, mainly for tests.
	SearchBaseURL string

	// HTTPTimeout bounds each outbound search request.
	HTTPTimeout time.Duration

	Logger log.Logger
}

// Handler implements tool execution logic with explicit dependencies.
// Genkit registration wraps these methods in thin closures, so each method
// is independently testable without a model in the loop.
type Handler struct {
	client        *http.Client
	searchBaseURL string
	logger        log.Logger
}

// NewHandler creates a tool handler.
func NewHandler(cfg Config) *Handler {
	baseURL := cfg.SearchBaseURL
	if baseURL == "" {
		baseURL = defaultSearchBaseURL
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Handler{
		client:        &http.Client{Timeout: timeout},
		searchBaseURL: strings.TrimRight(baseURL, "/"),
		logger:        logger,
	}
}

// Calculate evaluates an arithmetic expression and returns the result as
// text. Invalid expressions produce an explanatory string, never an error.
func (h *Handler) Calculate(_ context.Context, expression string) (string, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return "Error: empty expression", nil
	}

	program, err := expr.Compile(expression)
	if err != nil {
		h.logger.Info("calculator rejected expression", "expression", expression, "error", err)
		return fmt.Sprintf("Error: cannot parse %q: %v", expression, err), nil
	}

	out, err := expr.Run(program, nil)
	if err != nil {
		return fmt.Sprintf("Error: cannot evaluate %q: %v", expression, err), nil
	}

	return fmt.Sprintf("%v", out), nil
}

// instantAnswer mirrors the fields of the DuckDuckGo Instant Answer response
// this handler reads.
type instantAnswer struct {
	Answer        string `json:"Answer"`
	AbstractText  string `json:"AbstractText"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Search queries the DuckDuckGo Instant Answer API and summarizes the reply.
// Network and decode failures are reported as text so the model can tell the
// user the search did not work.
func (h *Handler) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "Error: empty search query", nil
	}

	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		h.searchBaseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("web search request failed", "query", query, "error", err)
		return fmt.Sprintf("Search failed: %v", err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Search failed: unexpected status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err), nil
	}

	var answer instantAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return fmt.Sprintf("Search failed: invalid response: %v", err), nil
	}

	var parts []string
	if answer.Answer != "" {
		parts = append(parts, "Answer: "+answer.Answer)
	}
	if answer.AbstractText != "" {
		parts = append(parts, "Summary: "+answer.AbstractText)
	}
	for i, topic := range answer.RelatedTopics {
		if i >= 3 {
			break
		}
		if topic.Text != "" {
			parts = append(parts, "Related: "+topic.Text)
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("No results found for %q", query), nil
	}

	return strings.Join(parts, "\n"), nil
}

var weatherConditions = []string{"sunny", "partly cloudy", "overcast", "light rain", "clear"}

// Weather returns a mock report. There is no upstream weather provider; the
// report is deterministic per location so repeated calls agree.
func (h *Handler) Weather(_ context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "Error: empty location", nil
	}

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(strings.ToLower(location)))
	seed := hash.Sum32()

	condition := weatherConditions[seed%uint32(len(weatherConditions))]
	tempC := 5 + int(seed%25)
	humidity := 40 + int(seed%50)

	return fmt.Sprintf("Weather in %s: %s, %d°C, humidity %d%% (mock data)",
		location, condition, tempC, humidity), nil
}
