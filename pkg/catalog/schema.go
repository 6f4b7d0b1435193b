package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the catalog schema in-place.
//
// The catalog holds the partitioned-table metadata consulted by the
// maintenance policies plus the job, policy-argument, and run-history
// tables they mutate.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS hypertables (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			UNIQUE(schema_name, table_name)
		);`,

		`CREATE TABLE IF NOT EXISTS dimensions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hypertable_id INTEGER NOT NULL,
			column_name TEXT NOT NULL,
			-- column_type selects cutoff arithmetic: 'timestamp' or 'integer'.
			column_type TEXT NOT NULL,
			-- open marks the unbounded, time-like axis used by recency policies.
			open INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(hypertable_id) REFERENCES hypertables(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dimensions_hypertable ON dimensions(hypertable_id);`,

		`CREATE TABLE IF NOT EXISTS dimension_slices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dimension_id INTEGER NOT NULL,
			-- [range_start, range_end) in the dimension's native units
			-- (microseconds since epoch for timestamp dimensions).
			range_start INTEGER NOT NULL,
			range_end INTEGER NOT NULL,
			UNIQUE(dimension_id, range_start, range_end),
			FOREIGN KEY(dimension_id) REFERENCES dimensions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dimension_slices_range ON dimension_slices(dimension_id, range_start);`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hypertable_id INTEGER NOT NULL,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			UNIQUE(schema_name, table_name),
			FOREIGN KEY(hypertable_id) REFERENCES hypertables(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_hypertable ON chunks(hypertable_id);`,

		`CREATE TABLE IF NOT EXISTS chunk_constraints (
			chunk_id INTEGER NOT NULL,
			dimension_slice_id INTEGER NOT NULL,
			PRIMARY KEY(chunk_id, dimension_slice_id),
			FOREIGN KEY(chunk_id) REFERENCES chunks(id),
			FOREIGN KEY(dimension_slice_id) REFERENCES dimension_slices(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_constraints_slice ON chunk_constraints(dimension_slice_id);`,

		`CREATE TABLE IF NOT EXISTS chunk_indexes (
			chunk_id INTEGER NOT NULL,
			index_name TEXT NOT NULL,
			indexed_column TEXT NOT NULL,
			hypertable_id INTEGER NOT NULL,
			hypertable_index_name TEXT NOT NULL,
			PRIMARY KEY(chunk_id, index_name),
			FOREIGN KEY(chunk_id) REFERENCES chunks(id),
			FOREIGN KEY(hypertable_id) REFERENCES hypertables(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_indexes_hypertable_index
			ON chunk_indexes(hypertable_id, hypertable_index_name);`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_type TEXT NOT NULL,
			schedule_interval_us INTEGER NOT NULL,
			max_runtime_us INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT -1,
			retry_period_us INTEGER NOT NULL DEFAULT 0,
			next_start INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_next_start ON jobs(next_start);`,

		`CREATE TABLE IF NOT EXISTS job_stats (
			job_id INTEGER PRIMARY KEY,
			last_start INTEGER,
			last_finish INTEGER,
			last_outcome TEXT,
			total_runs INTEGER NOT NULL DEFAULT 0,
			total_failures INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(job_id) REFERENCES jobs(id)
		);`,

		`CREATE TABLE IF NOT EXISTS policy_reorder (
			job_id INTEGER PRIMARY KEY,
			hypertable_id INTEGER NOT NULL,
			hypertable_index_name TEXT NOT NULL,
			FOREIGN KEY(job_id) REFERENCES jobs(id),
			FOREIGN KEY(hypertable_id) REFERENCES hypertables(id)
		);`,

		`CREATE TABLE IF NOT EXISTS policy_retention (
			job_id INTEGER PRIMARY KEY,
			hypertable_id INTEGER NOT NULL,
			-- Exactly one of older_than_us (relative interval) and
			-- older_than_value (fixed boundary in native units) is set.
			older_than_us INTEGER,
			older_than_value INTEGER,
			"cascade" INTEGER NOT NULL DEFAULT 0,
			cascade_to_materializations INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(job_id) REFERENCES jobs(id),
			FOREIGN KEY(hypertable_id) REFERENCES hypertables(id)
		);`,

		`CREATE TABLE IF NOT EXISTS chunk_job_history (
			job_id INTEGER NOT NULL,
			chunk_id INTEGER NOT NULL,
			last_run_at INTEGER NOT NULL,
			PRIMARY KEY(job_id, chunk_id),
			FOREIGN KEY(job_id) REFERENCES jobs(id),
			FOREIGN KEY(chunk_id) REFERENCES chunks(id)
		);`,

		`CREATE TABLE IF NOT EXISTS continuous_aggs (
			materialization_id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL UNIQUE,
			hypertable_id INTEGER NOT NULL,
			watermark INTEGER,
			FOREIGN KEY(job_id) REFERENCES jobs(id),
			FOREIGN KEY(hypertable_id) REFERENCES hypertables(id)
		);`,

		`CREATE TABLE IF NOT EXISTS materialization_invalidation_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			materialization_id INTEGER NOT NULL,
			lowest_modified INTEGER NOT NULL,
			greatest_modified INTEGER NOT NULL,
			FOREIGN KEY(materialization_id) REFERENCES continuous_aggs(materialization_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_invalidation_log_mat
			ON materialization_invalidation_log(materialization_id, lowest_modified);`,

		`CREATE TABLE IF NOT EXISTS job_run_events (
			event_id TEXT PRIMARY KEY,
			job_id INTEGER NOT NULL,
			occurred_at INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			detail TEXT,
			FOREIGN KEY(job_id) REFERENCES jobs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_run_events_job ON job_run_events(job_id, occurred_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
