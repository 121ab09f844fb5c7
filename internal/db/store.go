package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Supported database types.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DialectSQLite, sqlx.QUESTION)
}

// sqlStore is the sqlx-backed implementation of Store. Queries are written
// with '?' placeholders and rebound for the active dialect.
type sqlStore struct {
	db      *sqlx.DB
	dialect string
}

// NewStore opens a store of the given type ("sqlite" or "postgres") and runs
// all pending schema migrations. For SQLite, dsn is a file path or ":memory:".
func NewStore(dbType, dsn string) (Store, error) {
	switch dbType {
	case DialectSQLite, "":
		return NewSQLiteStore(dsn)
	case DialectPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
// Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sqlx.Open(DialectSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers so SQLITE_BUSY never surfaces.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqlStore{db: db, dialect: DialectSQLite}
	if err := s.migrate(sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPostgresStore connects to Postgres using a lib/pq connection string.
func NewPostgresStore(url string) (Store, error) {
	db, err := sqlx.Connect(DialectPostgres, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &sqlStore{db: db, dialect: DialectPostgres}
	if err := s.migrate(postgresMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqlStore) migrate(migrations []migration) error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version       INTEGER PRIMARY KEY,
        applied_at_ns BIGINT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(s.db.Rebind(`INSERT INTO schema_versions(version, applied_at_ns) VALUES(?, ?)`),
			m.version, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqlStore) Dialect() string { return s.dialect }

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ─── Operations ───────────────────────────────────────────────────────────────

const operationColumns = `seq, id, operation_type, pattern_key, input, output, success,
        execution_time_ms, cost_impact, resource_changes, error_type, recorded_at_ns`

func (s *sqlStore) AppendOperation(ctx context.Context, rec *OperationRecord) (int64, error) {
	var seq int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
        INSERT INTO operations(id, operation_type, pattern_key, input, output, success,
            execution_time_ms, cost_impact, resource_changes, error_type, recorded_at_ns)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
        RETURNING seq
    `),
		rec.ID, rec.OperationType, rec.PatternKey, rec.Input, rec.Output, boolToInt(rec.Success),
		rec.ExecutionTimeMs, rec.CostImpact, rec.ResourceChanges, rec.ErrorType, rec.RecordedAtNs,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("insert operation %s: %w", rec.ID, err)
	}
	rec.Seq = seq
	return seq, nil
}

// timeRange appends recorded_at_ns bounds to a WHERE clause.
func timeRange(query string, args []any, from, to time.Time) (string, []any) {
	if !from.IsZero() {
		query += ` AND recorded_at_ns >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += ` AND recorded_at_ns <= ?`
		args = append(args, to.UnixNano())
	}
	return query, args
}

func (s *sqlStore) QueryOperations(ctx context.Context, q OperationQuery) ([]*OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE 1=1`
	args := []any{}

	if q.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, q.OperationType)
	}
	if q.PatternKey != "" {
		query += ` AND pattern_key = ?`
		args = append(args, q.PatternKey)
	}
	if q.AfterSeq > 0 {
		query += ` AND seq > ?`
		args = append(args, q.AfterSeq)
	}
	query, args = timeRange(query, args, q.From, q.To)
	if q.Ascending {
		query += ` ORDER BY seq ASC`
	} else {
		query += ` ORDER BY seq DESC`
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	var out []*OperationRecord
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	return out, nil
}

func (s *sqlStore) AggregateOperations(ctx context.Context, from, to time.Time) (*OperationAggregate, error) {
	var row struct {
		Total     int             `db:"total"`
		Successes int             `db:"successes"`
		AvgExec   sql.NullFloat64 `db:"avg_exec"`
	}
	query, args := timeRange(`
        SELECT COUNT(*) AS total,
               COALESCE(SUM(success), 0) AS successes,
               AVG(execution_time_ms) AS avg_exec
        FROM operations WHERE 1=1`, nil, from, to)
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("aggregate operations: %w", err)
	}

	agg := &OperationAggregate{
		Total:           row.Total,
		Successes:       row.Successes,
		ByOperationType: map[string]int{},
		ByErrorType:     map[string]int{},
	}
	if row.AvgExec.Valid {
		agg.AvgExecutionTimeMs = row.AvgExec.Float64
	}

	if err := s.groupCount(ctx, "operation_type", from, to, agg.ByOperationType); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "error_type", from, to, agg.ByErrorType); err != nil {
		return nil, err
	}
	delete(agg.ByErrorType, "")
	return agg, nil
}

// groupCount fills dst with COUNT(*) grouped by column. column is always a
// package constant, never user input.
func (s *sqlStore) groupCount(ctx context.Context, column string, from, to time.Time, dst map[string]int) error {
	query, args := timeRange(`SELECT `+column+` AS k, COUNT(*) AS n FROM operations WHERE 1=1`, nil, from, to)
	query += ` GROUP BY ` + column

	var rows []struct {
		K string `db:"k"`
		N int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("group operations by %s: %w", column, err)
	}
	for _, r := range rows {
		dst[r.K] = r.N
	}
	return nil
}

func (s *sqlStore) LatestOperationTime(ctx context.Context) (time.Time, error) {
	var ns sql.NullInt64
	if err := s.db.GetContext(ctx, &ns, `SELECT MAX(recorded_at_ns) FROM operations`); err != nil {
		return time.Time{}, fmt.Errorf("latest operation time: %w", err)
	}
	if !ns.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ns.Int64).UTC(), nil
}

func (s *sqlStore) DeleteOperationsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM operations WHERE recorded_at_ns < ?`), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete operations: %w", err)
	}
	return res.RowsAffected()
}

// ─── Learning registry ────────────────────────────────────────────────────────

const upsertPatternSQL = `
    INSERT INTO learning_patterns(pattern_key, frequency, success_rate, confidence,
        avg_cost_impact, avg_execution_ms, first_seen_ns, last_seen_ns)
    VALUES(?,?,?,?,?,?,?,?)
    ON CONFLICT(pattern_key) DO UPDATE SET
        frequency        = excluded.frequency,
        success_rate     = excluded.success_rate,
        confidence       = excluded.confidence,
        avg_cost_impact  = excluded.avg_cost_impact,
        avg_execution_ms = excluded.avg_execution_ms,
        first_seen_ns    = excluded.first_seen_ns,
        last_seen_ns     = excluded.last_seen_ns
`

const upsertStateSQL = `
    INSERT INTO learning_state(name, value, updated_at_ns) VALUES(?,?,?)
    ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at_ns = excluded.updated_at_ns
`

func patternArgs(rec *LearningPatternRecord) []any {
	return []any{
		rec.PatternKey, rec.Frequency, rec.SuccessRate, rec.Confidence,
		rec.AvgCostImpact, rec.AvgExecutionMs, rec.FirstSeenNs, rec.LastSeenNs,
	}
}

func (s *sqlStore) ListLearningPatterns(ctx context.Context) ([]*LearningPatternRecord, error) {
	var out []*LearningPatternRecord
	err := s.db.SelectContext(ctx, &out, `
        SELECT pattern_key, frequency, success_rate, confidence, avg_cost_impact,
               avg_execution_ms, first_seen_ns, last_seen_ns
        FROM learning_patterns ORDER BY pattern_key`)
	if err != nil {
		return nil, fmt.Errorf("list learning patterns: %w", err)
	}
	return out, nil
}

func (s *sqlStore) UpsertLearningPattern(ctx context.Context, rec *LearningPatternRecord) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertPatternSQL), patternArgs(rec)...); err != nil {
		return fmt.Errorf("upsert learning pattern %s: %w", rec.PatternKey, err)
	}
	return nil
}

func (s *sqlStore) DeleteLearningPatternsBefore(ctx context.Context, lastSeenBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM learning_patterns WHERE last_seen_ns < ?`), lastSeenBefore.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete learning patterns: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqlStore) GetLearningState(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM learning_state WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get learning state %s: %w", name, err)
	}
	return value, true, nil
}

func (s *sqlStore) SaveLearningProgress(ctx context.Context, patterns []*LearningPatternRecord, state map[string]string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	patternQuery := tx.Rebind(upsertPatternSQL)
	for _, rec := range patterns {
		if _, err := tx.ExecContext(ctx, patternQuery, patternArgs(rec)...); err != nil {
			return fmt.Errorf("upsert learning pattern %s: %w", rec.PatternKey, err)
		}
	}

	// Deterministic write order keeps Postgres row locks consistent.
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UnixNano()
	stateQuery := tx.Rebind(upsertStateSQL)
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, stateQuery, name, state[name], now); err != nil {
			return fmt.Errorf("save learning state %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// ─── Pattern catalog ──────────────────────────────────────────────────────────

func (s *sqlStore) LatestCatalog(ctx context.Context) (*CatalogRecord, error) {
	rec := &CatalogRecord{}
	err := s.db.GetContext(ctx, rec, `
        SELECT version, document, loaded_at_ns FROM pattern_catalog
        ORDER BY version DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest catalog: %w", err)
	}
	return rec, nil
}

func (s *sqlStore) SaveCatalog(ctx context.Context, rec *CatalogRecord) error {
	if rec.LoadedAtNs == 0 {
		rec.LoadedAtNs = time.Now().UnixNano()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO pattern_catalog(version, document, loaded_at_ns) VALUES(?,?,?)
        ON CONFLICT(version) DO NOTHING
    `), rec.Version, rec.Document, rec.LoadedAtNs)
	if err != nil {
		return fmt.Errorf("save catalog v%d: %w", rec.Version, err)
	}
	return nil
}
