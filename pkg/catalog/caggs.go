package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// ContinuousAggregate binds a materialization target to the job that
// advances it. Watermark is the greatest range boundary materialized so far.
type ContinuousAggregate struct {
	MaterializationID int64
	JobID             int64
	HypertableID      int64
	Watermark         *int64
}

// InvalidationEntry is one pending range awaiting materialization.
type InvalidationEntry struct {
	ID                int64
	MaterializationID int64
	LowestModified    int64
	GreatestModified  int64
}

func CreateContinuousAggregate(ctx context.Context, q DBTX, ca *ContinuousAggregate) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO continuous_aggs (job_id, hypertable_id, watermark) VALUES (?, ?, ?)`,
		ca.JobID, ca.HypertableID, ca.Watermark)
	if err != nil {
		return fmt.Errorf("create continuous aggregate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("continuous aggregate id: %w", err)
	}
	ca.MaterializationID = id
	return nil
}

// FindMaterializationByJob returns nil when the job is not bound to a
// materialization target.
func FindMaterializationByJob(ctx context.Context, q DBTX, jobID int64) (*ContinuousAggregate, error) {
	var ca ContinuousAggregate
	var watermark sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT materialization_id, job_id, hypertable_id, watermark
		 FROM continuous_aggs WHERE job_id = ?`,
		jobID).Scan(&ca.MaterializationID, &ca.JobID, &ca.HypertableID, &watermark)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find materialization by job: %w", err)
	}
	if watermark.Valid {
		ca.Watermark = &watermark.Int64
	}
	return &ca, nil
}

// MaterializationsForHypertable lists materializations built over a hypertable.
func MaterializationsForHypertable(ctx context.Context, q DBTX, hypertableID int64) ([]ContinuousAggregate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT materialization_id, job_id, hypertable_id, watermark
		 FROM continuous_aggs WHERE hypertable_id = ?
		 ORDER BY materialization_id ASC`,
		hypertableID)
	if err != nil {
		return nil, fmt.Errorf("materializations for hypertable: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ContinuousAggregate
	for rows.Next() {
		var ca ContinuousAggregate
		var watermark sql.NullInt64
		if err := rows.Scan(&ca.MaterializationID, &ca.JobID, &ca.HypertableID, &watermark); err != nil {
			return nil, fmt.Errorf("scan continuous aggregate: %w", err)
		}
		if watermark.Valid {
			ca.Watermark = &watermark.Int64
		}
		out = append(out, ca)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate continuous aggregates: %w", err)
	}
	return out, nil
}

// UpdateMaterializationWatermark advances the watermark monotonically.
func UpdateMaterializationWatermark(ctx context.Context, q DBTX, materializationID, watermark int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE continuous_aggs
		 SET watermark = MAX(COALESCE(watermark, ?), ?)
		 WHERE materialization_id = ?`,
		watermark, watermark, materializationID)
	if err != nil {
		return fmt.Errorf("update materialization watermark: %w", err)
	}
	return nil
}

func AddInvalidation(ctx context.Context, q DBTX, e *InvalidationEntry) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO materialization_invalidation_log
		 (materialization_id, lowest_modified, greatest_modified)
		 VALUES (?, ?, ?)`,
		e.MaterializationID, e.LowestModified, e.GreatestModified)
	if err != nil {
		return fmt.Errorf("add invalidation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("invalidation id: %w", err)
	}
	e.ID = id
	return nil
}

// PendingInvalidations returns up to limit pending entries, oldest range first.
func PendingInvalidations(ctx context.Context, q DBTX, materializationID int64, limit int) ([]InvalidationEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, materialization_id, lowest_modified, greatest_modified
		 FROM materialization_invalidation_log
		 WHERE materialization_id = ?
		 ORDER BY lowest_modified ASC, id ASC
		 LIMIT ?`,
		materializationID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending invalidations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []InvalidationEntry
	for rows.Next() {
		var e InvalidationEntry
		if err := rows.Scan(&e.ID, &e.MaterializationID, &e.LowestModified, &e.GreatestModified); err != nil {
			return nil, fmt.Errorf("scan invalidation: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invalidations: %w", err)
	}
	return entries, nil
}

func CountPendingInvalidations(ctx context.Context, q DBTX, materializationID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM materialization_invalidation_log WHERE materialization_id = ?`,
		materializationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending invalidations: %w", err)
	}
	return n, nil
}

func DeleteInvalidation(ctx context.Context, q DBTX, id int64) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM materialization_invalidation_log WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete invalidation: %w", err)
	}
	return nil
}

// DeleteInvalidationsBelow drops pending entries for a hypertable's
// materializations whose ranges lie entirely at or below the cutoff
// (data dropped by retention has nothing left to materialize).
func DeleteInvalidationsBelow(ctx context.Context, q DBTX, hypertableID, cutoff int64) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM materialization_invalidation_log
		 WHERE greatest_modified <= ?
		   AND materialization_id IN (
		     SELECT materialization_id FROM continuous_aggs WHERE hypertable_id = ?
		   )`,
		cutoff, hypertableID)
	if err != nil {
		return fmt.Errorf("delete invalidations below cutoff: %w", err)
	}
	return nil
}
