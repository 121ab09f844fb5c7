package db

// migration is one versioned schema step. Version is tracked in the
// schema_versions table.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations defines the tables for the SQLite backend.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS operations (
    seq               INTEGER PRIMARY KEY AUTOINCREMENT,
    id                TEXT NOT NULL UNIQUE,
    operation_type    TEXT NOT NULL,
    pattern_key       TEXT NOT NULL DEFAULT '',
    input             TEXT NOT NULL DEFAULT '{}',
    output            TEXT NOT NULL DEFAULT '{}',
    success           INTEGER NOT NULL DEFAULT 0,
    execution_time_ms REAL NOT NULL DEFAULT 0.0,
    cost_impact       REAL NOT NULL DEFAULT 0.0,
    resource_changes  INTEGER NOT NULL DEFAULT 0,
    error_type        TEXT NOT NULL DEFAULT '',
    recorded_at_ns    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_recorded_at ON operations(recorded_at_ns);
CREATE INDEX IF NOT EXISTS idx_operations_type        ON operations(operation_type, recorded_at_ns);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS learning_patterns (
    pattern_key      TEXT PRIMARY KEY,
    frequency        INTEGER NOT NULL DEFAULT 0,
    success_rate     REAL NOT NULL DEFAULT 0.0,
    confidence       REAL NOT NULL DEFAULT 0.0,
    avg_cost_impact  REAL NOT NULL DEFAULT 0.0,
    avg_execution_ms REAL NOT NULL DEFAULT 0.0,
    first_seen_ns    INTEGER NOT NULL,
    last_seen_ns     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_patterns_last_seen ON learning_patterns(last_seen_ns);

CREATE TABLE IF NOT EXISTS learning_state (
    name          TEXT PRIMARY KEY,
    value         TEXT NOT NULL,
    updated_at_ns INTEGER NOT NULL
);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS pattern_catalog (
    version      INTEGER PRIMARY KEY,
    document     TEXT NOT NULL,
    loaded_at_ns INTEGER NOT NULL
);
`,
	},
}

// postgresMigrations mirrors sqliteMigrations with Postgres column types.
var postgresMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS operations (
    seq               BIGSERIAL PRIMARY KEY,
    id                TEXT NOT NULL UNIQUE,
    operation_type    TEXT NOT NULL,
    pattern_key       TEXT NOT NULL DEFAULT '',
    input             TEXT NOT NULL DEFAULT '{}',
    output            TEXT NOT NULL DEFAULT '{}',
    success           INTEGER NOT NULL DEFAULT 0,
    execution_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost_impact       DOUBLE PRECISION NOT NULL DEFAULT 0,
    resource_changes  INTEGER NOT NULL DEFAULT 0,
    error_type        TEXT NOT NULL DEFAULT '',
    recorded_at_ns    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_recorded_at ON operations(recorded_at_ns);
CREATE INDEX IF NOT EXISTS idx_operations_type        ON operations(operation_type, recorded_at_ns);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS learning_patterns (
    pattern_key      TEXT PRIMARY KEY,
    frequency        INTEGER NOT NULL DEFAULT 0,
    success_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_cost_impact  DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_execution_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    first_seen_ns    BIGINT NOT NULL,
    last_seen_ns     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_patterns_last_seen ON learning_patterns(last_seen_ns);

CREATE TABLE IF NOT EXISTS learning_state (
    name          TEXT PRIMARY KEY,
    value         TEXT NOT NULL,
    updated_at_ns BIGINT NOT NULL
);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS pattern_catalog (
    version      INTEGER PRIMARY KEY,
    document     TEXT NOT NULL,
    loaded_at_ns BIGINT NOT NULL
);
`,
	},
}
