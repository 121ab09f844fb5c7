package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INFRASAGE"

// Option configures a config manager.
type Option func(*viperConfigManager)

// WithLogger logs reload failures.
func WithLogger(logger *zap.Logger) Option {
	return func(m *viperConfigManager) { m.logger = logger }
}

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	logger     *zap.Logger

	mu        sync.RWMutex
	config    *Config
	viper     *viper.Viper
	fileUsed  string
	watchOnce sync.Once
	watchChan chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return err
	}

	used, err := readFile(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.viper = v
	m.fileUsed = used
	m.config = unmarshalConfig(v)
	return nil
}

// Get returns a copy of the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// ConfigFileUsed reports the file read by the last load.
func (m *viperConfigManager) ConfigFileUsed() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fileUsed
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidation(m.Get(ctx).Validate())
}

// Watch watches the config file and delivers each valid reload. Invalid
// reloads are logged and the previous configuration stays in effect. Only
// the newest pending configuration is kept when the reader falls behind.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.mu.RLock()
	v := m.viper
	m.mu.RUnlock()
	if v == nil {
		return m.watchChan
	}

	m.watchOnce.Do(func() {
		v.OnConfigChange(func(e fsnotify.Event) {
			if ctx.Err() != nil {
				return
			}
			cfg, err := m.reload()
			if err != nil {
				m.log().Warn("Config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			m.log().Info("Config reloaded", zap.String("file", e.Name))
			select {
			case <-m.watchChan:
			default:
			}
			m.watchChan <- *cfg
		})
		v.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	_, err := m.reload()
	return err
}

func (m *viperConfigManager) reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.viper == nil {
		return nil, errors.New("config not loaded")
	}
	if _, err := readFile(m.viper); err != nil {
		return nil, err
	}
	cfg := unmarshalConfig(m.viper)
	if err := joinValidation(cfg.Validate()); err != nil {
		return nil, err
	}
	m.config = cfg
	return cfg.Clone(), nil
}

func (m *viperConfigManager) log() *zap.Logger {
	if m.logger == nil {
		return zap.NewNop()
	}
	return m.logger
}

// readFile reads the config file. A missing file is not an error; defaults
// and the environment still apply.
func readFile(v *viper.Viper) (string, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("error reading config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// bindAliases adds the short environment names operators commonly set.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"server.port":           {EnvPrefix + "_SERVER_PORT", EnvPrefix + "_PORT"},
		"database.postgres_url": {EnvPrefix + "_DATABASE_POSTGRES_URL", "DATABASE_URL"},
		"tracing.endpoint":      {EnvPrefix + "_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.postgres_url", d.Database.PostgresURL)

	v.SetDefault("patterns.catalog_path", d.Patterns.CatalogPath)

	v.SetDefault("learning.enabled", d.Learning.Enabled)
	v.SetDefault("learning.interval_seconds", d.Learning.IntervalSeconds)
	v.SetDefault("learning.batch_size", d.Learning.BatchSize)
	v.SetDefault("learning.adaptation_min_confidence", d.Learning.AdaptationMinConfidence)
	v.SetDefault("learning.adaptation_min_frequency", d.Learning.AdaptationMinFrequency)
	v.SetDefault("learning.suggestion_success_rate", d.Learning.SuggestionSuccessRate)
	v.SetDefault("learning.suggestion_cost_impact", d.Learning.SuggestionCostImpact)

	v.SetDefault("telemetry.retention_days", d.Telemetry.RetentionDays)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.app_log_path", d.Logging.AppLogPath)
	v.SetDefault("logging.audit_log_path", d.Logging.AuditLogPath)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.stdout", d.Logging.Stdout)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// unmarshalConfig unmarshals viper config into Config struct.
func unmarshalConfig(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = v.GetInt("server.rate_limit_per_minute")

	cfg.Database.Type = strings.ToLower(v.GetString("database.type"))
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = v.GetString("database.postgres_url")

	cfg.Patterns.CatalogPath = v.GetString("patterns.catalog_path")

	cfg.Learning.Enabled = v.GetBool("learning.enabled")
	cfg.Learning.IntervalSeconds = v.GetInt("learning.interval_seconds")
	cfg.Learning.BatchSize = v.GetInt("learning.batch_size")
	cfg.Learning.AdaptationMinConfidence = v.GetFloat64("learning.adaptation_min_confidence")
	cfg.Learning.AdaptationMinFrequency = v.GetInt("learning.adaptation_min_frequency")
	cfg.Learning.SuggestionSuccessRate = v.GetFloat64("learning.suggestion_success_rate")
	cfg.Learning.SuggestionCostImpact = v.GetFloat64("learning.suggestion_cost_impact")

	cfg.Telemetry.RetentionDays = v.GetInt("telemetry.retention_days")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.AppLogPath = v.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = v.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Compress = v.GetBool("logging.compress")
	cfg.Logging.Stdout = v.GetBool("logging.stdout")

	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")
	cfg.Tracing.ServiceName = v.GetString("tracing.service_name")

	return cfg
}
