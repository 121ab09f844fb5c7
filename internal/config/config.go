package config

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Package config provides configuration management for infrasage.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (INFRASAGE_* prefix, "." replaced by "_")
//   2. YAML config file (default: ./infrasage.yaml, optional)
//   3. Built-in defaults
//
// The CLI loads .env files before the manager reads the environment.
//
// Sections:
//
//   1. server     host, port, allowed_origins, rate_limit_per_minute
//   2. database   type (sqlite|postgres), sqlite_path, postgres_url
//   3. patterns   catalog_path (empty means the embedded catalog)
//   4. learning   scheduler and insight thresholds
//   5. telemetry  retention_days
//   6. logging    application and audit log sinks, rotation
//   7. tracing    OTLP endpoint, sampling
//
// Only the learning thresholds are applied on hot reload; every other
// section is read once at startup.

// DefaultConfigPath is used when no config file is given.
const DefaultConfigPath = "infrasage.yaml"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string
	Port int
	// AllowedOrigins lists CORS and WebSocket origins. ["*"] allows any.
	AllowedOrigins []string
	// RateLimitPerMinute caps reasoning requests per client. 0 disables.
	RateLimitPerMinute int
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Type        string
	SQLitePath  string
	PostgresURL string
}

// DSN returns the data source for the selected backend.
func (d DatabaseConfig) DSN() string {
	if d.Type == "postgres" {
		return d.PostgresURL
	}
	return d.SQLitePath
}

// PatternsConfig locates the pattern catalog.
type PatternsConfig struct {
	CatalogPath string
}

// LearningConfig drives the learning scheduler and insight rules.
type LearningConfig struct {
	Enabled                 bool
	IntervalSeconds         int
	BatchSize               int
	AdaptationMinConfidence float64
	AdaptationMinFrequency  int
	SuggestionSuccessRate   float64
	SuggestionCostImpact    float64
}

// Interval is the periodic pass interval.
func (l LearningConfig) Interval() time.Duration {
	return time.Duration(l.IntervalSeconds) * time.Second
}

// TelemetryConfig configures the operation log.
type TelemetryConfig struct {
	// RetentionDays is the default age for explicit cleanup. 0 keeps everything.
	RetentionDays int
}

// LoggingConfig configures the application and audit logs.
type LoggingConfig struct {
	Level        string
	Format       string
	AppLogPath   string
	AuditLogPath string
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
	Compress     bool
	Stdout       bool
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint     string
	SamplingRate float64
	ServiceName  string
}

// Config struct contains all configuration fields
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Patterns  PatternsConfig
	Learning  LearningConfig
	Telemetry TelemetryConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &out
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns a copy of the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch reloads on config file changes and delivers every valid
	// configuration until ctx is done.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error

	// ConfigFileUsed reports the file that was read, or "" when only
	// defaults and the environment applied.
	ConfigFileUsed() string
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string, opts ...Option) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}
