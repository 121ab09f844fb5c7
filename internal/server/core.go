package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/audit"
	"github.com/infrasage/infrasage/internal/config"
	"github.com/infrasage/infrasage/internal/db"
	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/logging"
	"github.com/infrasage/infrasage/internal/patterns"
	"github.com/infrasage/infrasage/internal/reasoning/engine"
	"github.com/infrasage/infrasage/internal/telemetry"
)

// Core holds the decision engine and everything it reads and writes. The
// HTTP server and the one-shot CLI commands share it.
type Core struct {
	Config    config.Config
	Logger    *zap.Logger
	Audit     audit.Logger
	Store     db.Store
	Patterns  *patterns.Registry
	Log       *telemetry.LogStore
	Learning  *intelligence.Engine
	Scheduler *intelligence.Scheduler
	Engine    *engine.Engine

	ownsLogger bool
}

// NewLogger builds the application logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Path:       cfg.AppLogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		Stdout:     cfg.Stdout,
	})
}

// LearningConfig maps the learning section onto engine thresholds.
func LearningConfig(cfg config.LearningConfig) intelligence.Config {
	return intelligence.Config{
		AdaptationMinConfidence: cfg.AdaptationMinConfidence,
		AdaptationMinFrequency:  cfg.AdaptationMinFrequency,
		SuggestionSuccessRate:   cfg.SuggestionSuccessRate,
		SuggestionCostImpact:    cfg.SuggestionCostImpact,
		BatchSize:               cfg.BatchSize,
	}
}

// NewCore opens the database and builds the engine. A nil logger makes
// NewCore build one from cfg.Logging and close it with the core.
func NewCore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Core, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	c := &Core{Config: cfg, Logger: logger}
	if c.Logger == nil {
		l, err := NewLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		c.Logger, c.ownsLogger = l, true
	}

	if err := c.init(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) init(ctx context.Context) error {
	cfg := c.Config

	// 1. Audit trail
	auditLogger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		MaxSize:      cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	c.Audit = auditLogger

	// 2. Database
	store, err := db.NewStore(cfg.Database.Type, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Database.Type, err)
	}
	c.Store = store

	// 3. Pattern catalog
	fallback, err := patterns.LoadFile(cfg.Patterns.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to read pattern catalog: %w", err)
	}
	c.Patterns = patterns.NewRegistry(store, c.Logger)
	if _, err := c.Patterns.Load(ctx, fallback); err != nil {
		return fmt.Errorf("failed to load pattern catalog: %w", err)
	}

	// 4. Telemetry log and learning loop
	c.Log = telemetry.NewLogStore(store, c.Logger)
	c.Log.SetAuditLogger(c.Audit)

	c.Learning = intelligence.NewEngine(store, c.Log, LearningConfig(cfg.Learning), c.Logger, c.Audit)
	if err := c.Learning.Load(ctx); err != nil {
		return fmt.Errorf("failed to restore learning state: %w", err)
	}
	c.Scheduler = intelligence.NewScheduler(c.Learning, cfg.Learning.Interval(), c.Logger)

	// 5. Decision engine
	deps := engine.Deps{
		Patterns: c.Patterns,
		Recorder: c.Log,
		Advisor:  c.Learning,
		Audit:    c.Audit,
		Logger:   c.Logger,
	}
	if cfg.Learning.Enabled {
		deps.Trigger = c.Scheduler
	}
	c.Engine = engine.New(deps)

	c.Logger.Info("Core initialized",
		zap.String("database", cfg.Database.Type),
		zap.Int("catalog_version", c.Patterns.Version()),
		zap.Bool("learning", cfg.Learning.Enabled))
	return nil
}

// ApplyConfig applies the hot-reloadable parts of cfg: learning thresholds.
func (c *Core) ApplyConfig(ctx context.Context, cfg config.Config, source string) {
	c.Learning.SetConfig(LearningConfig(cfg.Learning))
	if err := c.Audit.LogConfigLoaded(ctx, source); err != nil {
		c.Logger.Warn("Failed to audit config reload", zap.Error(err))
	}
	c.Logger.Info("Learning thresholds reloaded",
		zap.Float64("adaptation_min_confidence", cfg.Learning.AdaptationMinConfidence),
		zap.Int("adaptation_min_frequency", cfg.Learning.AdaptationMinFrequency))
}

// Close releases the store, the audit trail and an owned logger.
func (c *Core) Close() error {
	var errs []error
	if c.Audit != nil {
		errs = append(errs, c.Audit.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.ownsLogger && c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return errors.Join(errs...)
}
