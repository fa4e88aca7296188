// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (runtime override)
//  2. Config file (~/.parley/config.yaml, or ./config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check categories with
// errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxTurns indicates the max turns value is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPort indicates the listen port is out of range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidDBPath indicates the database path is invalid.
	ErrInvalidDBPath = errors.New("invalid database path")

	// ErrInvalidRetention indicates a retention setting is out of range.
	ErrInvalidRetention = errors.New("invalid retention setting")

	// ErrInvalidRateLimit indicates a rate limit setting is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrUnknownTool indicates enabled_tools names a tool that does not exist.
	ErrUnknownTool = errors.New("unknown tool")
)

// Bounds for per-request generation overrides, mirrored by API validation.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 1
	MaxMaxTokens   = 4000
)

// Config stores application configuration.
// SECURITY: Sensitive fields are masked in MarshalJSON.
type Config struct {
	// HTTP server
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// API key auth. Empty APIKey disables authentication.
	APIKey     string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Storage
	DBPath string `mapstructure:"db_path" json:"db_path"`

	// Model configuration
	ModelName      string        `mapstructure:"model_name" json:"model_name"`
	SystemPrompt   string        `mapstructure:"system_prompt" json:"system_prompt"`
	Temperature    float64       `mapstructure:"temperature" json:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" json:"max_tokens"`
	MaxTurns       int           `mapstructure:"max_turns" json:"max_turns"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	// Tools
	EnabledTools  []string `mapstructure:"enabled_tools" json:"enabled_tools"`
	SearchBaseURL string   `mapstructure:"search_base_url" json:"search_base_url"`

	// Session retention
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age" json:"session_max_age"`

	// Per-client request rate limiting
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Browser cross-origin access; "*" allows any origin
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Logging
	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" json:"log_format"` // "text" or "json"
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8000)
	viper.SetDefault("trust_proxy", false)

	// Storage defaults
	viper.SetDefault("db_path", defaultDBPath())

	// Model defaults
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("max_turns", 5)
	viper.SetDefault("request_timeout", 2*time.Minute)

	// Tool defaults
	viper.SetDefault("enabled_tools", []string{"calculator", "webSearch", "weather"})
	viper.SetDefault("search_base_url", "https://api.duckduckgo.com")

	// Retention defaults
	viper.SetDefault("sweep_interval", time.Hour)
	viper.SetDefault("session_max_age", 30*24*time.Hour)

	// Rate limit defaults
	viper.SetDefault("rate_limit_rps", 10.0)
	viper.SetDefault("rate_limit_burst", 20)

	// CORS default mirrors the permissive development posture; restrict in
	// production via config or PARLEY_CORS_ORIGINS.
	viper.SetDefault("cors_origins", []string{"*"})

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("host", "PARLEY_HOST")
	mustBind("port", "PARLEY_PORT")
	mustBind("api_key", "PARLEY_API_KEY")
	mustBind("trust_proxy", "PARLEY_TRUST_PROXY")
	mustBind("db_path", "PARLEY_DB_PATH")
	mustBind("model_name", "PARLEY_MODEL_NAME")
	mustBind("cors_origins", "PARLEY_CORS_ORIGINS")
	mustBind("log_level", "PARLEY_LOG_LEVEL")
	mustBind("log_format", "PARLEY_LOG_FORMAT")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validate() checks its presence.
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.db"
	}
	return filepath.Join(home, ".parley", "parley.db")
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "googleai/gemini-2.5-flash". Names already containing "/" pass
// through unchanged.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthEnabled reports whether API key authentication is active.
func (c *Config) AuthEnabled() bool {
	return c.APIKey != ""
}

const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep two characters at each end for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
