package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raidboard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}
	if config.Database.Path == "" {
		t.Error("Default database path should not be empty")
	}
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.HTTP.Port)
	}
	if config.Reaper.Interval != time.Minute || config.Reaper.InactivityDeadline != 30*time.Minute ||
		config.Reaper.IdleWindow != 10*time.Minute {
		t.Errorf("Unexpected reaper defaults %+v", config.Reaper)
	}
	if config.Resolver.MinShare != 0.05 {
		t.Errorf("Expected min share 0.05, got %v", config.Resolver.MinShare)
	}
	if config.Catalog.Path != "" {
		t.Errorf("Default catalog should be built in, got %q", config.Catalog.Path)
	}
	if config.Address() != "0.0.0.0:8080" {
		t.Errorf("Unexpected address %s", config.Address())
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"negative port", func(c *Config) { c.HTTP.Port = -1 }, "port"},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"zero shutdown timeout", func(c *Config) { c.HTTP.ShutdownTimeout = 0 }, "timeouts"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database"},
		{"zero connections", func(c *Config) { c.Database.MaxConnections = 0 }, "database"},
		{"zero busy timeout", func(c *Config) { c.Database.BusyTimeout = 0 }, "database"},
		{"read timeout under ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }, "ping interval"},
		{"zero event buffer", func(c *Config) { c.WebSocket.EventBuffer = 0 }, "event buffer"},
		{"zero reaper interval", func(c *Config) { c.Reaper.Interval = 0 }, "reaper interval"},
		{"zero idle window", func(c *Config) { c.Reaper.IdleWindow = 0 }, "idle window"},
		{"negative retention", func(c *Config) { c.Reaper.ClosedRetention = -time.Second }, "retention"},
		{"variance out of range", func(c *Config) { c.Resolver.Variance = 1.5 }, "resolver"},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }, "rate limit"},
		{"missing section", func(c *Config) { c.Reaper = nil }, "section"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("RAIDBOARD_HTTP_PORT", "9090")
	t.Setenv("RAIDBOARD_DATABASE_PATH", "/tmp/raid.db")
	t.Setenv("RAIDBOARD_REAPER_IDLE_WINDOW", "5m")
	t.Setenv("RAIDBOARD_RESOLVER_VARIANCE", "0.1")
	t.Setenv("RAIDBOARD_CATALOG_PATH", "/etc/raidboard/dungeons.yaml")

	config, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/raid.db" {
		t.Errorf("Expected database path /tmp/raid.db, got %s", config.Database.Path)
	}
	if config.Reaper.IdleWindow != 5*time.Minute {
		t.Errorf("Expected idle window 5m, got %v", config.Reaper.IdleWindow)
	}
	if config.Resolver.Variance != 0.1 {
		t.Errorf("Expected variance 0.1, got %v", config.Resolver.Variance)
	}
	if config.Catalog.Path != "/etc/raidboard/dungeons.yaml" {
		t.Errorf("Unexpected catalog path %q", config.Catalog.Path)
	}

	// Untouched values keep their defaults
	if config.HTTP.Host != "0.0.0.0" || config.Reaper.Interval != time.Minute {
		t.Errorf("Defaults lost: host=%s interval=%v", config.HTTP.Host, config.Reaper.Interval)
	}
}

func TestConfig_LoadFromEnvInvalid(t *testing.T) {
	t.Setenv("RAIDBOARD_HTTP_PORT", "not-a-number")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for malformed port")
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  path: /tmp/file.db
http:
  port: 8081
  read_timeout: 10s
reaper:
  interval: 30s
  closed_retention: 2h
rate_limit:
  requests: 20
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Database.Path != "/tmp/file.db" {
		t.Errorf("Expected /tmp/file.db, got %s", config.Database.Path)
	}
	if config.HTTP.Port != 8081 || config.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("Unexpected HTTP section %+v", config.HTTP)
	}
	if config.Reaper.Interval != 30*time.Second || config.Reaper.ClosedRetention != 2*time.Hour {
		t.Errorf("Unexpected reaper section %+v", config.Reaper)
	}
	if config.RateLimit.Requests != 20 {
		t.Errorf("Expected 20 requests, got %d", config.RateLimit.Requests)
	}

	// Keys the file leaves out keep their defaults
	if config.HTTP.WriteTimeout != 30*time.Second {
		t.Errorf("Expected default write timeout, got %v", config.HTTP.WriteTimeout)
	}
	if config.Reaper.IdleWindow != 10*time.Minute {
		t.Errorf("Expected default idle window, got %v", config.Reaper.IdleWindow)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	malformed := writeConfigFile(t, "http: [unclosed")
	if _, err := LoadFromFile(malformed); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	badDuration := writeConfigFile(t, "reaper:\n  interval: soon\n")
	if _, err := LoadFromFile(badDuration); err == nil {
		t.Error("Expected error for unparseable duration")
	}

	invalid := writeConfigFile(t, "http:\n  port: -5\n")
	_, err := LoadFromFile(invalid)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration precedence file > env > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("RAIDBOARD_HTTP_PORT", "9090")
	t.Setenv("RAIDBOARD_HTTP_HOST", "127.0.0.1")

	path := writeConfigFile(t, "http:\n  port: 7070\n")

	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 7070 {
		t.Errorf("File should win over env, got port %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Env should win over defaults, got host %s", config.HTTP.Host)
	}
	if config.Database.Path != DefaultConfig().Database.Path {
		t.Errorf("Defaults should fill the rest, got %s", config.Database.Path)
	}

	envOnly, err := LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("Env-only load failed: %v", err)
	}
	if envOnly.HTTP.Port != 9090 {
		t.Errorf("Expected env port 9090, got %d", envOnly.HTTP.Port)
	}

	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error when the named file is missing")
	}
}

func TestConfig_Conversions(t *testing.T) {
	config := DefaultConfig()
	config.Database.Path = "/tmp/x.db"
	config.Reaper.IdleWindow = time.Minute
	config.Resolver.DamageScale = 2

	config.Database.BusyTimeout = 3 * time.Second
	store := config.StoreConfig()
	if store.DatabasePath != "/tmp/x.db" || store.BusyTimeout != 3*time.Second || store.CacheSizeKB != config.Database.CacheSizeKB {
		t.Errorf("Unexpected store config %+v", store)
	}
	if got := config.ReaperSettings().IdleWindow; got != time.Minute {
		t.Errorf("Unexpected idle window %v", got)
	}
	if got := config.EncounterConfig().DamageScale; got != 2 {
		t.Errorf("Unexpected damage scale %v", got)
	}
}
