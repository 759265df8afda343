package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// saveEnv saves current environment variables for restoration
func saveEnv(t *testing.T, keys []string) map[string]string {
	t.Helper()
	saved := make(map[string]string)
	for _, key := range keys {
		saved[key] = os.Getenv(key)
	}
	return saved
}

// restoreEnv restores previously saved environment variables
func restoreEnv(t *testing.T, saved map[string]string) {
	t.Helper()
	for key, val := range saved {
		if val == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, val)
		}
	}
}

// clearEnv clears environment variables
func clearEnv(t *testing.T, keys []string) {
	t.Helper()
	for _, key := range keys {
		os.Unsetenv(key)
	}
}

var allEnvKeys = []string{
	"ANALYSIS_CONFIG_FILE",
	"ANALYSIS_API_URL",
	"ANALYSIS_API_TOKEN",
	"ANALYSIS_LOCALE",
	"ANALYSIS_AGENTS",
	"ANALYSIS_CONNECT_TIMEOUT_SECONDS",
	"ANALYSIS_IDLE_TIMEOUT_SECONDS",
	"ANALYSIS_MAX_FRAME_BYTES",
	"ANALYSIS_CONCURRENCY_LIMIT",
	"ANALYSIS_CREDENTIALS_FILE",
	"ANALYSIS_CREDENTIALS_PASSPHRASE",
	"BREAKER_MAX_REQUESTS",
	"BREAKER_INTERVAL_SECONDS",
	"BREAKER_TIMEOUT_SECONDS",
	"HTTP_ADDR",
	"CORS_ALLOWED_ORIGINS",
	"HTTP_REQUEST_TIMEOUT_SECONDS",
	"LOG_LEVEL",
	"LOG_FORMAT",
}

func TestLoad_Defaults(t *testing.T) {
	saved := saveEnv(t, allEnvKeys)
	defer restoreEnv(t, saved)
	clearEnv(t, allEnvKeys)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Stream.BaseURL != "http://localhost:8000/api" {
		t.Errorf("expected default BaseURL, got %s", cfg.Stream.BaseURL)
	}
	if cfg.Stream.Locale != "en-US" {
		t.Errorf("expected Locale='en-US', got %s", cfg.Stream.Locale)
	}
	if cfg.Stream.ConnectTimeout() != 15*time.Second {
		t.Errorf("expected ConnectTimeout=15s, got %v", cfg.Stream.ConnectTimeout())
	}
	if cfg.Stream.IdleTimeout() != 0 {
		t.Errorf("expected idle timeout disabled by default, got %v", cfg.Stream.IdleTimeout())
	}
	if cfg.Stream.MaxFrameBytes != 1<<20 {
		t.Errorf("expected MaxFrameBytes=1MiB, got %d", cfg.Stream.MaxFrameBytes)
	}
	if len(cfg.Stream.Agents) != 0 {
		t.Errorf("expected no explicit agents, got %v", cfg.Stream.Agents)
	}
	if cfg.Panels.ConcurrencyLimit != 4 {
		t.Errorf("expected ConcurrencyLimit=4, got %d", cfg.Panels.ConcurrencyLimit)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected Addr=':8080', got %s", cfg.HTTP.Addr)
	}
	if cfg.HTTP.CORSAllowedOrigins != "*" {
		t.Errorf("expected CORSAllowedOrigins='*', got %s", cfg.HTTP.CORSAllowedOrigins)
	}
	if cfg.HasAPIToken() {
		t.Error("expected no API token by default")
	}
	if cfg.IsProduction() {
		t.Error("expected text logging by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	saved := saveEnv(t, allEnvKeys)
	defer restoreEnv(t, saved)
	clearEnv(t, allEnvKeys)

	os.Setenv("ANALYSIS_API_URL", "https://analysis.example.com/api")
	os.Setenv("ANALYSIS_API_TOKEN", "secret")
	os.Setenv("ANALYSIS_LOCALE", "zh-CN")
	os.Setenv("ANALYSIS_AGENTS", "Fundamental, news,")
	os.Setenv("ANALYSIS_IDLE_TIMEOUT_SECONDS", "45")
	os.Setenv("ANALYSIS_CONCURRENCY_LIMIT", "8")
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("LOG_FORMAT", "json")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with custom values failed: %v", err)
	}

	if cfg.Stream.BaseURL != "https://analysis.example.com/api" {
		t.Errorf("unexpected BaseURL %s", cfg.Stream.BaseURL)
	}
	if !cfg.HasAPIToken() {
		t.Error("expected API token to be set")
	}
	if cfg.Stream.Locale != "zh-CN" {
		t.Errorf("expected Locale='zh-CN', got %s", cfg.Stream.Locale)
	}
	if !reflect.DeepEqual(cfg.Stream.Agents, []string{"fundamental", "news"}) {
		t.Errorf("expected agents [fundamental news], got %v", cfg.Stream.Agents)
	}
	if cfg.Stream.IdleTimeout() != 45*time.Second {
		t.Errorf("expected IdleTimeout=45s, got %v", cfg.Stream.IdleTimeout())
	}
	if cfg.Panels.ConcurrencyLimit != 8 {
		t.Errorf("expected ConcurrencyLimit=8, got %d", cfg.Panels.ConcurrencyLimit)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected Addr=':9090', got %s", cfg.HTTP.Addr)
	}
	if !cfg.IsProduction() {
		t.Error("expected json logging")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected Level='debug', got %s", cfg.Logging.Level)
	}
}

func TestLoad_File(t *testing.T) {
	saved := saveEnv(t, allEnvKeys)
	defer restoreEnv(t, saved)
	clearEnv(t, allEnvKeys)

	path := filepath.Join(t.TempDir(), "analysis.yaml")
	content := `
stream:
  base_url: http://backend:9000/api
  locale: zh-TW
  agents: [technical, sentiment]
  idle_timeout_seconds: 20
panels:
  concurrency_limit: 2
http:
  addr: ":7070"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	os.Setenv("ANALYSIS_CONFIG_FILE", path)
	os.Setenv("HTTP_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with file failed: %v", err)
	}

	if cfg.Stream.BaseURL != "http://backend:9000/api" {
		t.Errorf("expected BaseURL from file, got %s", cfg.Stream.BaseURL)
	}
	if cfg.Stream.Locale != "zh-TW" {
		t.Errorf("expected Locale from file, got %s", cfg.Stream.Locale)
	}
	if !reflect.DeepEqual(cfg.Stream.Agents, []string{"technical", "sentiment"}) {
		t.Errorf("expected agents from file, got %v", cfg.Stream.Agents)
	}
	if cfg.Panels.ConcurrencyLimit != 2 {
		t.Errorf("expected ConcurrencyLimit=2, got %d", cfg.Panels.ConcurrencyLimit)
	}
	// Unset file values keep their defaults
	if cfg.Stream.ConnectTimeoutSeconds != 15 {
		t.Errorf("expected default ConnectTimeoutSeconds, got %d", cfg.Stream.ConnectTimeoutSeconds)
	}
	// Environment wins over the file
	if cfg.HTTP.Addr != ":6060" {
		t.Errorf("expected env Addr to override file, got %s", cfg.HTTP.Addr)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	saved := saveEnv(t, allEnvKeys)
	defer restoreEnv(t, saved)
	clearEnv(t, allEnvKeys)

	os.Setenv("ANALYSIS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stream: [unclosed"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	os.Setenv("ANALYSIS_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"relative url", func(c *Config) { c.Stream.BaseURL = "/api" }, "ANALYSIS_API_URL"},
		{"bad scheme", func(c *Config) { c.Stream.BaseURL = "ftp://host/api" }, "ANALYSIS_API_URL"},
		{"empty locale", func(c *Config) { c.Stream.Locale = "" }, "ANALYSIS_LOCALE"},
		{"unknown agent", func(c *Config) { c.Stream.Agents = []string{"macro"} }, "unknown agent"},
		{"zero connect timeout", func(c *Config) { c.Stream.ConnectTimeoutSeconds = 0 }, "ANALYSIS_CONNECT_TIMEOUT_SECONDS"},
		{"negative idle timeout", func(c *Config) { c.Stream.IdleTimeoutSeconds = -1 }, "ANALYSIS_IDLE_TIMEOUT_SECONDS"},
		{"tiny frame limit", func(c *Config) { c.Stream.MaxFrameBytes = 10 }, "ANALYSIS_MAX_FRAME_BYTES"},
		{"zero concurrency", func(c *Config) { c.Panels.ConcurrencyLimit = 0 }, "ANALYSIS_CONCURRENCY_LIMIT"},
		{"store without passphrase", func(c *Config) { c.Credentials.StorePath = "/tmp/creds.enc" }, "ANALYSIS_CREDENTIALS_PASSPHRASE"},
		{"store with passphrase", func(c *Config) {
			c.Credentials.StorePath = "/tmp/creds.enc"
			c.Credentials.Passphrase = "secret"
		}, ""},
		{"zero breaker requests", func(c *Config) { c.Breaker.MaxRequests = 0 }, "BREAKER_MAX_REQUESTS"},
		{"zero breaker timeout", func(c *Config) { c.Breaker.TimeoutSeconds = 0 }, "BREAKER_TIMEOUT_SECONDS"},
		{"zero request timeout", func(c *Config) { c.HTTP.RequestTimeoutSeconds = 0 }, "HTTP_REQUEST_TIMEOUT_SECONDS"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnvString(t *testing.T) {
	key := "TEST_GET_ENV_STRING"
	defer os.Unsetenv(key)

	os.Unsetenv(key)
	if got := getEnvString(key, "default"); got != "default" {
		t.Errorf("expected 'default', got %s", got)
	}

	os.Setenv(key, "custom")
	if got := getEnvString(key, "default"); got != "custom" {
		t.Errorf("expected 'custom', got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_GET_ENV_INT"
	defer os.Unsetenv(key)

	os.Unsetenv(key)
	if got := getEnvInt(key, 42); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	os.Setenv(key, "100")
	if got := getEnvInt(key, 42); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}

	// Invalid integer returns default
	os.Setenv(key, "invalid")
	if got := getEnvInt(key, 42); got != 42 {
		t.Errorf("expected 42 for invalid value, got %d", got)
	}

	// Negative returns default
	os.Setenv(key, "-5")
	if got := getEnvInt(key, 42); got != 42 {
		t.Errorf("expected 42 for negative value, got %d", got)
	}
}

func TestGetEnvList(t *testing.T) {
	key := "TEST_GET_ENV_LIST"
	defer os.Unsetenv(key)

	os.Unsetenv(key)
	if got := getEnvList(key, []string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected default list, got %v", got)
	}

	os.Setenv(key, " X ,y,, z")
	if got := getEnvList(key, nil); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("expected [x y z], got %v", got)
	}

	os.Setenv(key, " , ")
	if got := getEnvList(key, []string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected default for blank list, got %v", got)
	}
}

func TestNewTestConfig(t *testing.T) {
	cfg := NewTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("NewTestConfig should be valid: %v", err)
	}
	if cfg.Breaker.Timeout() != time.Second {
		t.Errorf("expected short breaker timeout in tests, got %v", cfg.Breaker.Timeout())
	}
}
