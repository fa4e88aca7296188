package tools

// CalculatorInput defines input for the calculator tool.
type CalculatorInput struct {
	Expression string `json:"expression" jsonschema_description:"The arithmetic expression to evaluate (e.g., '2 + 2 * 10')"`
}

// WebSearchInput defines input for the webSearch tool.
type WebSearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query string"`
}

// WeatherInput defines input for the weather tool.
type WeatherInput struct {
	Location string `json:"location" jsonschema_description:"The city or location to report weather for"`
}
