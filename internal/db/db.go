package db

import (
	"context"
	"time"
)

// Store is the persistence interface for the decision engine and its
// learning loop. The three logical stores (operation log, learning registry,
// pattern catalog) share one database but never share tables.
type Store interface {
	OperationStore
	LearningStore
	CatalogStore

	// Dialect returns "sqlite" or "postgres".
	Dialect() string

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Operation log ────────────────────────────────────────────────────────────

// OperationRecord is the DB representation of an operation log entry.
// Input and Output are JSON blobs.
type OperationRecord struct {
	Seq             int64   `db:"seq" json:"seq"`
	ID              string  `db:"id" json:"id"`
	OperationType   string  `db:"operation_type" json:"operation_type"`
	PatternKey      string  `db:"pattern_key" json:"pattern_key"`
	Input           string  `db:"input" json:"input"`
	Output          string  `db:"output" json:"output"`
	Success         bool    `db:"success" json:"success"`
	ExecutionTimeMs float64 `db:"execution_time_ms" json:"execution_time_ms"`
	CostImpact      float64 `db:"cost_impact" json:"cost_impact"`
	ResourceChanges int     `db:"resource_changes" json:"resource_changes"`
	ErrorType       string  `db:"error_type" json:"error_type"`
	RecordedAtNs    int64   `db:"recorded_at_ns" json:"-"`
}

// RecordedAt returns the record timestamp.
func (r *OperationRecord) RecordedAt() time.Time { return time.Unix(0, r.RecordedAtNs).UTC() }

// OperationQuery filters operation log queries. Zero values mean "no filter".
type OperationQuery struct {
	OperationType string
	PatternKey    string
	From          time.Time
	To            time.Time
	AfterSeq      int64
	Limit         int
	// Ascending orders by seq ascending (learning passes); the default is
	// most-recent-first.
	Ascending bool
}

// OperationAggregate is the raw aggregate of a time range.
type OperationAggregate struct {
	Total              int
	Successes          int
	AvgExecutionTimeMs float64
	ByOperationType    map[string]int
	ByErrorType        map[string]int
}

// OperationStore persists the append-only operation log.
type OperationStore interface {
	// AppendOperation inserts a record and returns its assigned seq.
	AppendOperation(ctx context.Context, rec *OperationRecord) (int64, error)

	// QueryOperations retrieves records with optional filters.
	QueryOperations(ctx context.Context, q OperationQuery) ([]*OperationRecord, error)

	// AggregateOperations summarizes records in [from, to]. Zero bounds are open.
	AggregateOperations(ctx context.Context, from, to time.Time) (*OperationAggregate, error)

	// LatestOperationTime returns the newest recorded timestamp, or zero time.
	LatestOperationTime(ctx context.Context) (time.Time, error)

	// DeleteOperationsBefore removes records older than before (retention).
	DeleteOperationsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ─── Learning registry ────────────────────────────────────────────────────────

// LearningPatternRecord is the DB representation of a learning pattern.
type LearningPatternRecord struct {
	PatternKey     string  `db:"pattern_key" json:"pattern_key"`
	Frequency      int     `db:"frequency" json:"frequency"`
	SuccessRate    float64 `db:"success_rate" json:"success_rate"`
	Confidence     float64 `db:"confidence" json:"confidence"`
	AvgCostImpact  float64 `db:"avg_cost_impact" json:"avg_cost_impact"`
	AvgExecutionMs float64 `db:"avg_execution_ms" json:"avg_execution_ms"`
	FirstSeenNs    int64   `db:"first_seen_ns" json:"-"`
	LastSeenNs     int64   `db:"last_seen_ns" json:"-"`
}

// LearningStore persists learning patterns and learner state (watermark,
// model sufficient statistics).
type LearningStore interface {
	// ListLearningPatterns returns every pattern ordered by key.
	ListLearningPatterns(ctx context.Context) ([]*LearningPatternRecord, error)

	// UpsertLearningPattern creates or replaces a single pattern.
	UpsertLearningPattern(ctx context.Context, rec *LearningPatternRecord) error

	// DeleteLearningPatternsBefore removes patterns last seen before the cutoff.
	DeleteLearningPatternsBefore(ctx context.Context, lastSeenBefore time.Time) (int64, error)

	// GetLearningState reads a named state value.
	GetLearningState(ctx context.Context, name string) (string, bool, error)

	// SaveLearningProgress writes patterns and state values in one transaction.
	SaveLearningProgress(ctx context.Context, patterns []*LearningPatternRecord, state map[string]string) error
}

// ─── Pattern catalog ──────────────────────────────────────────────────────────

// CatalogRecord is a persisted pattern catalog version (YAML document).
type CatalogRecord struct {
	Version    int    `db:"version" json:"version"`
	Document   string `db:"document" json:"document"`
	LoadedAtNs int64  `db:"loaded_at_ns" json:"-"`
}

// CatalogStore persists versioned pattern catalogs.
type CatalogStore interface {
	// LatestCatalog returns the highest version, or nil when none is stored.
	LatestCatalog(ctx context.Context) (*CatalogRecord, error)

	// SaveCatalog stores a catalog version. Existing versions are not replaced.
	SaveCatalog(ctx context.Context, rec *CatalogRecord) error
}
