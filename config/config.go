package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stream-analyst/models"
)

// Config holds all application configuration
type Config struct {
	// Analysis stream configuration
	Stream StreamConfig `yaml:"stream"`

	// Circuit breaker around stream connection establishment
	Breaker BreakerConfig `yaml:"breaker"`

	// Panel registry configuration
	Panels PanelsConfig `yaml:"panels"`

	// Encrypted on-disk credential store
	Credentials CredentialsConfig `yaml:"credentials"`

	// HTTP configuration
	HTTP HTTPConfig `yaml:"http"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// StreamConfig holds analysis backend configuration
type StreamConfig struct {
	BaseURL               string   `yaml:"base_url"`
	APIToken              string   `yaml:"api_token"`
	Locale                string   `yaml:"locale"`
	Agents                []string `yaml:"agents"`                  // requested agents, empty means the protocol's own list
	ConnectTimeoutSeconds int      `yaml:"connect_timeout_seconds"` // time to receive response headers
	IdleTimeoutSeconds    int      `yaml:"idle_timeout_seconds"`    // 0 disables the client-side silence timeout
	MaxFrameBytes         int      `yaml:"max_frame_bytes"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxRequests     uint32 `yaml:"max_requests"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// PanelsConfig holds panel registry configuration
type PanelsConfig struct {
	ConcurrencyLimit int `yaml:"concurrency_limit"`
}

// CredentialsConfig locates the encrypted credential store. An empty path
// disables the store and only the configured token is used.
type CredentialsConfig struct {
	StorePath  string `yaml:"store_path"`
	Passphrase string `yaml:"-"` // env only
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr                  string `yaml:"addr"`
	CORSAllowedOrigins    string `yaml:"cors_allowed_origins"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ConnectTimeout returns the response header timeout for stream requests
func (c StreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// IdleTimeout returns the allowed silence between frames, zero when disabled
func (c StreamConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// Interval returns the closed-state count reset period
func (c BreakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns how long the breaker stays open before probing
func (c BreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request timeout for non-streaming routes
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load loads configuration from an optional YAML file and then environment variables.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("ANALYSIS_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Stream: StreamConfig{
			BaseURL:               "http://localhost:8000/api",
			Locale:                "en-US",
			ConnectTimeoutSeconds: 15,
			IdleTimeoutSeconds:    0,
			MaxFrameBytes:         1 << 20,
		},
		Breaker: BreakerConfig{
			MaxRequests:     5,
			IntervalSeconds: 60,
			TimeoutSeconds:  30,
		},
		Panels: PanelsConfig{
			ConcurrencyLimit: 4,
		},
		HTTP: HTTPConfig{
			Addr:                  ":8080",
			CORSAllowedOrigins:    "*",
			RequestTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Stream.BaseURL = getEnvString("ANALYSIS_API_URL", cfg.Stream.BaseURL)
	cfg.Stream.APIToken = getEnvString("ANALYSIS_API_TOKEN", cfg.Stream.APIToken)
	cfg.Stream.Locale = getEnvString("ANALYSIS_LOCALE", cfg.Stream.Locale)
	cfg.Stream.Agents = getEnvList("ANALYSIS_AGENTS", cfg.Stream.Agents)
	cfg.Stream.ConnectTimeoutSeconds = getEnvInt("ANALYSIS_CONNECT_TIMEOUT_SECONDS", cfg.Stream.ConnectTimeoutSeconds)
	cfg.Stream.IdleTimeoutSeconds = getEnvInt("ANALYSIS_IDLE_TIMEOUT_SECONDS", cfg.Stream.IdleTimeoutSeconds)
	cfg.Stream.MaxFrameBytes = getEnvInt("ANALYSIS_MAX_FRAME_BYTES", cfg.Stream.MaxFrameBytes)

	cfg.Breaker.MaxRequests = uint32(getEnvInt("BREAKER_MAX_REQUESTS", int(cfg.Breaker.MaxRequests)))
	cfg.Breaker.IntervalSeconds = getEnvInt("BREAKER_INTERVAL_SECONDS", cfg.Breaker.IntervalSeconds)
	cfg.Breaker.TimeoutSeconds = getEnvInt("BREAKER_TIMEOUT_SECONDS", cfg.Breaker.TimeoutSeconds)

	cfg.Panels.ConcurrencyLimit = getEnvInt("ANALYSIS_CONCURRENCY_LIMIT", cfg.Panels.ConcurrencyLimit)

	cfg.Credentials.StorePath = getEnvString("ANALYSIS_CREDENTIALS_FILE", cfg.Credentials.StorePath)
	cfg.Credentials.Passphrase = getEnvString("ANALYSIS_CREDENTIALS_PASSPHRASE", cfg.Credentials.Passphrase)

	cfg.HTTP.Addr = getEnvString("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.CORSAllowedOrigins = getEnvString("CORS_ALLOWED_ORIGINS", cfg.HTTP.CORSAllowedOrigins)
	cfg.HTTP.RequestTimeoutSeconds = getEnvInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.HTTP.RequestTimeoutSeconds)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvString("LOG_FORMAT", cfg.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.Stream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ANALYSIS_API_URL must be an absolute http(s) URL, got %q", c.Stream.BaseURL)
	}
	if c.Stream.Locale == "" {
		return fmt.Errorf("ANALYSIS_LOCALE must not be empty")
	}
	for _, name := range c.Stream.Agents {
		if _, ok := models.ParseAgentName(name); !ok {
			return fmt.Errorf("ANALYSIS_AGENTS contains unknown agent %q", name)
		}
	}

	// Validate positive integers
	if c.Stream.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("ANALYSIS_CONNECT_TIMEOUT_SECONDS must be positive, got %d", c.Stream.ConnectTimeoutSeconds)
	}
	if c.Stream.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("ANALYSIS_IDLE_TIMEOUT_SECONDS must not be negative, got %d", c.Stream.IdleTimeoutSeconds)
	}
	if c.Stream.MaxFrameBytes < 4096 {
		return fmt.Errorf("ANALYSIS_MAX_FRAME_BYTES must be at least 4096, got %d", c.Stream.MaxFrameBytes)
	}
	if c.Panels.ConcurrencyLimit <= 0 {
		return fmt.Errorf("ANALYSIS_CONCURRENCY_LIMIT must be positive, got %d", c.Panels.ConcurrencyLimit)
	}
	if c.Credentials.StorePath != "" && c.Credentials.Passphrase == "" {
		return fmt.Errorf("ANALYSIS_CREDENTIALS_PASSPHRASE is required when ANALYSIS_CREDENTIALS_FILE is set")
	}
	if c.Breaker.MaxRequests == 0 {
		return fmt.Errorf("BREAKER_MAX_REQUESTS must be positive")
	}
	if c.Breaker.TimeoutSeconds <= 0 {
		return fmt.Errorf("BREAKER_TIMEOUT_SECONDS must be positive, got %d", c.Breaker.TimeoutSeconds)
	}
	if c.HTTP.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("HTTP_REQUEST_TIMEOUT_SECONDS must be positive, got %d", c.HTTP.RequestTimeoutSeconds)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// HasAPIToken returns true if a bearer token is configured for the analysis backend
func (c *Config) HasAPIToken() bool {
	return c.Stream.APIToken != ""
}

// IsProduction returns true if logs should be written as JSON
func (c *Config) IsProduction() bool {
	return c.Logging.Format == "json"
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList reads a comma separated list, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToLower(item))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	cfg := defaults()
	cfg.Breaker.TimeoutSeconds = 1
	return cfg
}
