package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/koopa0/parley/internal/tools"
)

// Validate checks configuration values and fails fast on the first problem.
// Returns sentinel errors checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.Temperature < MinTemperature || c.Temperature > MaxTemperature {
		return fmt.Errorf("%w: must be between %.1f and %.1f, got %.2f",
			ErrInvalidTemperature, MinTemperature, MaxTemperature, c.Temperature)
	}

	if c.MaxTokens < MinMaxTokens || c.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: must be between %d and %d, got %d",
			ErrInvalidMaxTokens, MinMaxTokens, MaxMaxTokens, c.MaxTokens)
	}

	if c.MaxTurns < 1 {
		return fmt.Errorf("%w: max_turns must be at least 1, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPort, c.Port)
	}

	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path cannot be empty", ErrInvalidDBPath)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep_interval must be positive, got %v", ErrInvalidRetention, c.SweepInterval)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("%w: session_max_age must be positive, got %v", ErrInvalidRetention, c.SessionMaxAge)
	}

	known := tools.Names()
	for _, name := range c.EnabledTools {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: %q is not one of %v", ErrUnknownTool, name, known)
		}
	}

	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("%w: rate_limit_rps must be positive, got %v", ErrInvalidRateLimit, c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate_limit_burst must be at least 1, got %d", ErrInvalidRateLimit, c.RateLimitBurst)
	}

	return nil
}
