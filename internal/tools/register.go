package tools

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
)

// Tool descriptions live here, next to registration, so the model-facing
// text and the API-facing metadata cannot drift apart.
const (
	calculatorDescription = "Evaluate an arithmetic expression and return the numeric result. " +
		"Use this for any math the user asks for instead of computing it yourself."
	webSearchDescription = "Search the web for current information using DuckDuckGo instant answers. " +
		"Use this when the user asks about facts, definitions, or anything you are unsure about."
	weatherDescription = "Get the current weather report for a city or location. " +
		"Returns mock data suitable for demos."
)

// toolNames is the single source of truth for registered tool names.
var toolNames = []string{"calculator", "webSearch", "weather"}

// Names returns all registered tool names, in registration order. The agent
// uses this list to resolve tool references without duplicating it.
func Names() []string {
	return append([]string(nil), toolNames...)
}

// Register defines all tools on the Genkit instance, delegating execution to
// handler methods. The closures only adapt parameters; logic stays on Handler
// where it is testable.
func Register(g *genkit.Genkit, h *Handler) {
	genkit.DefineTool(g, "calculator", calculatorDescription,
		func(ctx *ai.ToolContext, input CalculatorInput) (string, error) {
			return h.Calculate(ctx, input.Expression)
		})

	genkit.DefineTool(g, "webSearch", webSearchDescription,
		func(ctx *ai.ToolContext, input WebSearchInput) (string, error) {
			return h.Search(ctx, input.Query)
		})

	genkit.DefineTool(g, "weather", weatherDescription,
		func(ctx *ai.ToolContext, input WeatherInput) (string, error) {
			return h.Weather(ctx, input.Location)
		})
}

// Info describes one tool for API consumers.
type Info struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Infos returns API-facing metadata for every tool, with parameter schemas
// derived from the same input types the model sees.
func Infos() ([]Info, error) {
	return InfosFor(toolNames)
}

// InfosFor returns metadata for the named tools only, preserving the given
// order. Unknown names are skipped rather than erroring; enablement is
// validated where the agent resolves tools, not here.
func InfosFor(names []string) ([]Info, error) {
	calculatorSchema, err := jsonschema.For[CalculatorInput](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive calculator schema: %w", err)
	}
	webSearchSchema, err := jsonschema.For[WebSearchInput](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive webSearch schema: %w", err)
	}
	weatherSchema, err := jsonschema.For[WeatherInput](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive weather schema: %w", err)
	}

	all := map[string]Info{
		"calculator": {Name: "calculator", Description: calculatorDescription, Parameters: calculatorSchema},
		"webSearch":  {Name: "webSearch", Description: webSearchDescription, Parameters: webSearchSchema},
		"weather":    {Name: "weather", Description: weatherDescription, Parameters: weatherSchema},
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		if info, ok := all[name]; ok {
			infos = append(infos, info)
		}
	}
	return infos, nil
}
