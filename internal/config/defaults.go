package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 120

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "infrasage.db"
	cfg.Database.PostgresURL = ""

	// Patterns default to the embedded catalog
	cfg.Patterns.CatalogPath = ""

	// Learning defaults
	cfg.Learning.Enabled = true
	cfg.Learning.IntervalSeconds = 60
	cfg.Learning.BatchSize = 500
	cfg.Learning.AdaptationMinConfidence = 0.8
	cfg.Learning.AdaptationMinFrequency = 10
	cfg.Learning.SuggestionSuccessRate = 0.8
	cfg.Learning.SuggestionCostImpact = 100

	// Telemetry defaults
	cfg.Telemetry.RetentionDays = 30

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = ""
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true
	cfg.Logging.Stdout = true

	// Tracing is off until an endpoint is set
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1.0
	cfg.Tracing.ServiceName = "infrasage"

	return cfg
}
