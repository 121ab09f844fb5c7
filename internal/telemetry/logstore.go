// Package telemetry is the append-only operation log: every reasoning
// request, its decision summary and outcome.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/audit"
	"github.com/infrasage/infrasage/internal/db"
	"github.com/infrasage/infrasage/internal/metrics"
	"github.com/infrasage/infrasage/internal/models"
)

// ErrInvalidEntry is returned by Record for entries without an operation type.
var ErrInvalidEntry = errors.New("invalid operation log entry")

// Filter narrows Query results. Zero values mean "no filter".
type Filter struct {
	OperationType string
	PatternKey    string
	From          time.Time
	To            time.Time
	Limit         int
}

// LogStore serializes writes to the operation log and stamps each entry with
// a timestamp that never goes backwards. Reads run concurrently and reflect
// a snapshot of committed entries.
type LogStore struct {
	store  db.OperationStore
	logger *zap.Logger
	audit  audit.Logger
	now    func() time.Time

	mu     sync.Mutex
	last   time.Time
	primed bool
}

// NewLogStore creates a log store over the given persistence layer.
func NewLogStore(store db.OperationStore, logger *zap.Logger) *LogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStore{store: store, logger: logger, audit: audit.NewNop(), now: time.Now}
}

// SetAuditLogger records retention cleanups in the audit trail.
func (l *LogStore) SetAuditLogger(a audit.Logger) {
	if a != nil {
		l.audit = a
	}
}

// Record durably appends entry and returns it as stored (ID, Seq and
// Timestamp assigned). The write has committed when Record returns nil.
func (l *LogStore) Record(ctx context.Context, entry models.OperationLogEntry) (models.OperationLogEntry, error) {
	if entry.OperationType == "" {
		metrics.LogWritesTotal.WithLabelValues("invalid").Inc()
		return entry, fmt.Errorf("%w: operation type is required", ErrInvalidEntry)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.primed {
		latest, err := l.store.LatestOperationTime(ctx)
		if err != nil {
			metrics.LogWritesTotal.WithLabelValues("error").Inc()
			return entry, fmt.Errorf("record operation: %w", err)
		}
		l.last, l.primed = latest, true
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	ts = ts.UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	entry.Timestamp = ts

	rec, err := toRecord(entry)
	if err != nil {
		metrics.LogWritesTotal.WithLabelValues("error").Inc()
		return entry, err
	}
	seq, err := l.store.AppendOperation(ctx, rec)
	if err != nil {
		metrics.LogWritesTotal.WithLabelValues("error").Inc()
		l.logger.Warn("Operation log write failed",
			zap.String("id", entry.ID),
			zap.String("operation_type", entry.OperationType),
			zap.Error(err))
		return entry, fmt.Errorf("record operation: %w", err)
	}

	l.last = ts
	entry.Seq = seq
	metrics.LogWritesTotal.WithLabelValues("ok").Inc()
	return entry, nil
}

// Query returns matching entries, most recent first.
func (l *LogStore) Query(ctx context.Context, f Filter) ([]models.OperationLogEntry, error) {
	recs, err := l.store.QueryOperations(ctx, db.OperationQuery{
		OperationType: f.OperationType,
		PatternKey:    f.PatternKey,
		From:          f.From,
		To:            f.To,
		Limit:         f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	return fromRecords(recs)
}

// Since returns up to limit entries with seq > afterSeq in ascending seq
// order. The learning pass pages through the log with it.
func (l *LogStore) Since(ctx context.Context, afterSeq int64, limit int) ([]models.OperationLogEntry, error) {
	recs, err := l.store.QueryOperations(ctx, db.OperationQuery{
		AfterSeq:  afterSeq,
		Limit:     limit,
		Ascending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read operations after %d: %w", afterSeq, err)
	}
	return fromRecords(recs)
}

// Aggregate summarizes the entries in [from, to]. Zero bounds are open.
func (l *LogStore) Aggregate(ctx context.Context, from, to time.Time) (*models.OperationSummary, error) {
	agg, err := l.store.AggregateOperations(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate operations: %w", err)
	}
	s := &models.OperationSummary{
		From:               from,
		To:                 to,
		Total:              agg.Total,
		AvgExecutionTimeMs: agg.AvgExecutionTimeMs,
		ByOperationType:    agg.ByOperationType,
		ByErrorType:        agg.ByErrorType,
	}
	if agg.Total > 0 {
		s.SuccessRate = float64(agg.Successes) / float64(agg.Total)
	}
	return s, nil
}

// Cleanup is the explicit retention pass: it removes entries recorded
// before the cutoff and reports how many were deleted.
func (l *LogStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	n, err := l.store.DeleteOperationsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup operations: %w", err)
	}
	l.logger.Info("Operation log retention cleanup",
		zap.Time("before", before),
		zap.Int64("deleted", n))
	if err := l.audit.LogRetentionCleanup(ctx, "operations", before, n); err != nil {
		l.logger.Warn("Failed to audit retention cleanup", zap.Error(err))
	}
	return n, nil
}

func toRecord(e models.OperationLogEntry) (*db.OperationRecord, error) {
	in, err := json.Marshal(e.Input)
	if err != nil {
		return nil, fmt.Errorf("encode operation input: %w", err)
	}
	out, err := json.Marshal(e.Output)
	if err != nil {
		return nil, fmt.Errorf("encode operation output: %w", err)
	}
	return &db.OperationRecord{
		ID:              e.ID,
		OperationType:   e.OperationType,
		PatternKey:      e.PatternKey,
		Input:           string(in),
		Output:          string(out),
		Success:         e.Success,
		ExecutionTimeMs: e.ExecutionTimeMs,
		CostImpact:      e.CostImpact,
		ResourceChanges: e.ResourceChanges,
		ErrorType:       e.ErrorType,
		RecordedAtNs:    e.Timestamp.UnixNano(),
	}, nil
}

func fromRecords(recs []*db.OperationRecord) ([]models.OperationLogEntry, error) {
	out := make([]models.OperationLogEntry, 0, len(recs))
	for _, r := range recs {
		e := models.OperationLogEntry{
			ID:              r.ID,
			Seq:             r.Seq,
			Timestamp:       r.RecordedAt(),
			OperationType:   r.OperationType,
			PatternKey:      r.PatternKey,
			Success:         r.Success,
			ExecutionTimeMs: r.ExecutionTimeMs,
			CostImpact:      r.CostImpact,
			ResourceChanges: r.ResourceChanges,
			ErrorType:       r.ErrorType,
		}
		if err := json.Unmarshal([]byte(r.Input), &e.Input); err != nil {
			return nil, fmt.Errorf("decode input of operation %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.Output), &e.Output); err != nil {
			return nil, fmt.Errorf("decode output of operation %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
