package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	bufferSize    = 100
	flushInterval = 1 * time.Second
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Decision lifecycle
	LogDecisionMade(ctx context.Context, objective, patternKey, solution string, confidence float64, duration time.Duration) error
	LogDecisionNoCandidates(ctx context.Context, objective, patternKey string, duration time.Duration) error
	LogDecisionFailed(ctx context.Context, objective, patternKey string, err error) error

	// LogLearningPass logs the end of a learning pass
	LogLearningPass(ctx context.Context, result Result, entries, patterns int, duration time.Duration, err error) error

	// LogRetentionCleanup logs an explicit retention pass
	LogRetentionCleanup(ctx context.Context, target string, before time.Time, deleted int64) error

	// LogConfigLoaded logs configuration (re)loads
	LogConfigLoaded(ctx context.Context, source string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives internal errors
// (e.g. unencodable events); nil discards them.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit logs are append-only and always INFO level
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(flushInterval),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogDecisionMade logs a successful decision
func (l *auditLogger) LogDecisionMade(ctx context.Context, objective, patternKey, solution string, confidence float64, duration time.Duration) error {
	event := NewEvent(EventDecisionMade).
		WithRequest(objective, patternKey).
		WithResource(solution, "solution").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("confidence", confidence).
		WithDescription(fmt.Sprintf("Selected %s for %s", solution, patternKey))

	return l.Log(ctx, event)
}

// LogDecisionNoCandidates logs a request with no feasible candidate
func (l *auditLogger) LogDecisionNoCandidates(ctx context.Context, objective, patternKey string, duration time.Duration) error {
	event := NewEvent(EventDecisionNoCandidates).
		WithRequest(objective, patternKey).
		WithResult(ResultFailure).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("No feasible solution for %s", patternKey))
	event.ErrorCode = "no_candidates"

	return l.Log(ctx, event)
}

// LogDecisionFailed logs an unexpected pipeline failure
func (l *auditLogger) LogDecisionFailed(ctx context.Context, objective, patternKey string, err error) error {
	event := NewEvent(EventDecisionFailed).
		WithRequest(objective, patternKey).
		WithError(err, "internal").
		WithDescription(fmt.Sprintf("Reasoning failed for %s", patternKey))

	return l.Log(ctx, event)
}

// LogLearningPass logs the outcome of a learning pass
func (l *auditLogger) LogLearningPass(ctx context.Context, result Result, entries, patterns int, duration time.Duration, err error) error {
	eventType := EventLearningPassCompleted
	switch result {
	case ResultCancelled:
		eventType = EventLearningPassCancelled
	case ResultFailure:
		eventType = EventLearningPassFailed
	}

	event := NewEvent(eventType).
		WithAction("learning_pass").
		WithResult(result).
		WithDuration(duration).
		WithMetadata("entries", entries).
		WithMetadata("patterns", patterns).
		WithDescription(fmt.Sprintf("Learning pass %s after %d entries", result, entries))
	if err != nil {
		event.Error = err.Error()
	}

	return l.Log(ctx, event)
}

// LogRetentionCleanup logs an explicit retention pass
func (l *auditLogger) LogRetentionCleanup(ctx context.Context, target string, before time.Time, deleted int64) error {
	event := NewEvent(EventRetentionCleanup).
		WithResource(target, "table").
		WithAction("delete").
		WithResult(ResultSuccess).
		WithMetadata("before", before.UTC().Format(time.RFC3339)).
		WithMetadata("deleted", deleted).
		WithDescription(fmt.Sprintf("Removed %d %s older than %s", deleted, target, before.UTC().Format(time.RFC3339)))

	return l.Log(ctx, event)
}

// LogConfigLoaded logs configuration (re)loads
func (l *auditLogger) LogConfigLoaded(ctx context.Context, source string) error {
	event := NewEvent(EventConfigLoaded).
		WithResource(source, "config").
		WithResult(ResultSuccess).
		WithDescription("Configuration loaded")

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close stops the flush loop and flushes remaining events. It is safe to
// call more than once.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		<-l.doneCh
	})
	return l.Sync()
}

// ─── No-op logger ─────────────────────────────────────────────────────────────

type nopLogger struct{}

// NewNop returns a Logger that discards every event.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogDecisionMade(context.Context, string, string, string, float64, time.Duration) error {
	return nil
}
func (nopLogger) LogDecisionNoCandidates(context.Context, string, string, time.Duration) error {
	return nil
}
func (nopLogger) LogDecisionFailed(context.Context, string, string, error) error { return nil }
func (nopLogger) LogLearningPass(context.Context, Result, int, int, time.Duration, error) error {
	return nil
}
func (nopLogger) LogRetentionCleanup(context.Context, string, time.Time, int64) error { return nil }
func (nopLogger) LogConfigLoaded(context.Context, string) error                       { return nil }
func (nopLogger) Sync() error                                                         { return nil }
func (nopLogger) Close() error                                                        { return nil }

// ─── Correlation IDs ──────────────────────────────────────────────────────────

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.New().String()
}
