package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
	"raidboard/internal/encounter"
	"raidboard/internal/session"
	dbconfig "raidboard/pkg/database"
)

// EnvPrefix namespaces every environment variable read by LoadFromEnv
const EnvPrefix = "RAIDBOARD_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	HTTP      *HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	WebSocket *WebSocketConfig `yaml:"websocket" envPrefix:"WEBSOCKET_"`
	Reaper    *ReaperConfig    `yaml:"reaper" envPrefix:"REAPER_"`
	Resolver  *ResolverConfig  `yaml:"resolver" envPrefix:"RESOLVER_"`
	Catalog   *CatalogConfig   `yaml:"catalog" envPrefix:"CATALOG_"`
	RateLimit *RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path            string        `yaml:"path" env:"PATH"`
	MaxConnections  int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	BusyTimeout     time.Duration `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
	CacheSizeKB     int           `yaml:"cache_size_kb" env:"CACHE_SIZE_KB"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// WebSocketConfig covers the live event feed. EventBuffer sizes the hub queue.
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	EventBuffer  int           `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

type ReaperConfig struct {
	Interval           time.Duration `yaml:"interval" env:"INTERVAL"`
	InactivityDeadline time.Duration `yaml:"inactivity_deadline" env:"INACTIVITY_DEADLINE"`
	IdleWindow         time.Duration `yaml:"idle_window" env:"IDLE_WINDOW"`
	ClosedRetention    time.Duration `yaml:"closed_retention" env:"CLOSED_RETENTION"`
}

type ResolverConfig struct {
	DamageScale       float64 `yaml:"damage_scale" env:"DAMAGE_SCALE"`
	Variance          float64 `yaml:"variance" env:"VARIANCE"`
	BaseCasualty      float64 `yaml:"base_casualty" env:"BASE_CASUALTY"`
	ReferenceStrength float64 `yaml:"reference_strength" env:"REFERENCE_STRENGTH"`
	MaxCasualty       float64 `yaml:"max_casualty" env:"MAX_CASUALTY"`
	MinShare          float64 `yaml:"min_share" env:"MIN_SHARE"`
}

// CatalogConfig points at a YAML dungeon catalog; empty means the built-in one
type CatalogConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type RateLimitConfig struct {
	Requests        int           `yaml:"requests" env:"REQUESTS"`
	Window          time.Duration `yaml:"window" env:"WINDOW"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// DefaultConfig returns production defaults. Sweep and resolver values come
// from the packages that own them so the two never drift.
func DefaultConfig() *Config {
	reaper := session.DefaultReaperConfig()
	resolver := encounter.DefaultConfig()
	database := dbconfig.DefaultConfig()

	return &Config{
		Database: &DatabaseConfig{
			Path:            database.DatabasePath,
			MaxConnections:  database.MaxConnections,
			ConnMaxLifetime: database.ConnMaxLifetime,
			ConnMaxIdleTime: database.ConnMaxIdleTime,
			BusyTimeout:     database.BusyTimeout,
			CacheSizeKB:     database.CacheSizeKB,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			EventBuffer:  1000,
		},
		Reaper: &ReaperConfig{
			Interval:           reaper.Interval,
			InactivityDeadline: reaper.InactivityDeadline,
			IdleWindow:         reaper.IdleWindow,
			ClosedRetention:    reaper.ClosedRetention,
		},
		Resolver: &ResolverConfig{
			DamageScale:       resolver.DamageScale,
			Variance:          resolver.Variance,
			BaseCasualty:      resolver.BaseCasualty,
			ReferenceStrength: resolver.ReferenceStrength,
			MaxCasualty:       resolver.MaxCasualty,
			MinShare:          resolver.MinShare,
		},
		Catalog: &CatalogConfig{},
		RateLimit: &RateLimitConfig{
			Requests:        100,
			Window:          time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Reaper == nil ||
		c.Resolver == nil || c.Catalog == nil || c.RateLimit == nil {
		return errors.New("every configuration section is required")
	}

	if err := c.StoreConfig().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.EventBuffer <= 0 {
		return errors.New("WebSocket event buffer must be positive")
	}

	if c.Reaper.Interval <= 0 {
		return errors.New("reaper interval must be positive")
	}
	if c.Reaper.InactivityDeadline <= 0 || c.Reaper.IdleWindow <= 0 {
		return errors.New("reaper deadline and idle window must be positive")
	}
	if c.Reaper.ClosedRetention < 0 {
		return errors.New("reaper closed retention cannot be negative")
	}

	if err := c.EncounterConfig().Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.CleanupInterval <= 0 {
		return errors.New("rate limit requests, window and cleanup interval must be positive")
	}

	return nil
}

// StoreConfig converts the database section for the SQLite manager
func (c *Config) StoreConfig() *dbconfig.Config {
	return &dbconfig.Config{
		DatabasePath:    c.Database.Path,
		MaxConnections:  c.Database.MaxConnections,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		BusyTimeout:     c.Database.BusyTimeout,
		CacheSizeKB:     c.Database.CacheSizeKB,
	}
}

// ReaperSettings converts the reaper section for session.NewReaper
func (c *Config) ReaperSettings() session.ReaperConfig {
	return session.ReaperConfig{
		Interval:           c.Reaper.Interval,
		InactivityDeadline: c.Reaper.InactivityDeadline,
		IdleWindow:         c.Reaper.IdleWindow,
		ClosedRetention:    c.Reaper.ClosedRetention,
	}
}

// EncounterConfig converts the resolver section for encounter.NewResolver
func (c *Config) EncounterConfig() encounter.Config {
	return encounter.Config{
		DamageScale:       c.Resolver.DamageScale,
		Variance:          c.Resolver.Variance,
		BaseCasualty:      c.Resolver.BaseCasualty,
		ReferenceStrength: c.Resolver.ReferenceStrength,
		MaxCasualty:       c.Resolver.MaxCasualty,
		MinShare:          c.Resolver.MinShare,
	}
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays RAIDBOARD_* environment variables on the defaults
// FUNCTIONAL DISCOVERY: Variable names follow the section layout, e.g.
// RAIDBOARD_HTTP_PORT or RAIDBOARD_REAPER_IDLE_WINDOW=5m
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromFile overlays a YAML file on the defaults
// TECHNICAL DISCOVERY: yaml.v3 decodes duration strings such as "45s" straight
// into time.Duration, and decoding onto populated sections keeps every key the
// file leaves out
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// An empty filepath skips the file layer. The merged result is validated.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
