package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns every violation.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute)
	}

	// Database
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when database type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when database type is postgres")
		}
	default:
		add("database.type", "invalid database type '%s', must be one of: sqlite, postgres", c.Database.Type)
	}

	// Learning
	l := c.Learning
	if l.Enabled && l.IntervalSeconds < 1 {
		add("learning.interval_seconds", "interval_seconds must be at least 1 when learning is enabled, got %d", l.IntervalSeconds)
	}
	if l.BatchSize < 1 {
		add("learning.batch_size", "batch_size must be positive, got %d", l.BatchSize)
	}
	if l.AdaptationMinConfidence < 0 || l.AdaptationMinConfidence > 1 {
		add("learning.adaptation_min_confidence", "must be between 0 and 1, got %.2f", l.AdaptationMinConfidence)
	}
	if l.AdaptationMinFrequency < 0 {
		add("learning.adaptation_min_frequency", "cannot be negative, got %d", l.AdaptationMinFrequency)
	}
	if l.SuggestionSuccessRate < 0 || l.SuggestionSuccessRate > 1 {
		add("learning.suggestion_success_rate", "must be between 0 and 1, got %.2f", l.SuggestionSuccessRate)
	}
	if l.SuggestionCostImpact < 0 {
		add("learning.suggestion_cost_impact", "cannot be negative, got %.2f", l.SuggestionCostImpact)
	}

	// Telemetry
	if c.Telemetry.RetentionDays < 0 {
		add("telemetry.retention_days", "retention days cannot be negative, got %d", c.Telemetry.RetentionDays)
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json":    true,
		"text":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid log format '%s', must be one of: json, text", c.Logging.Format)
	}
	if c.Logging.AuditLogPath == "" {
		add("logging.audit_log_path", "audit_log_path is required")
	}
	if c.Logging.MaxSizeMB < 1 {
		add("logging.max_size_mb", "max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxBackups < 0 {
		add("logging.max_backups", "max_backups cannot be negative, got %d", c.Logging.MaxBackups)
	}
	if c.Logging.MaxAgeDays < 0 {
		add("logging.max_age_days", "max_age_days cannot be negative, got %d", c.Logging.MaxAgeDays)
	}

	// Tracing
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "sampling_rate must be between 0 and 1, got %.2f", c.Tracing.SamplingRate)
	}

	return errs
}

// Validate returns every violation in c folded into one error, or nil.
func Validate(c *Config) error {
	return joinValidation(c.Validate())
}

// joinValidation folds validation errors into one error.
func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
