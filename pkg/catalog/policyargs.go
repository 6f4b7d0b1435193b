package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReorderArgs is the stored configuration of a reorder job: one row per
// job, immutable except through policy-alteration calls.
type ReorderArgs struct {
	JobID               int64
	HypertableID        int64
	HypertableIndexName string
}

// Boundary expresses a retention cutoff: either a relative interval
// subtracted from now (timestamp dimensions) or a fixed boundary in the
// dimension's native units.
type Boundary struct {
	Interval time.Duration
	Value    int64
	Fixed    bool
}

// CutoffAt resolves the boundary against a dimension at a point in time.
func (b Boundary) CutoffAt(now time.Time, dim *Dimension) (int64, error) {
	if b.Fixed {
		return b.Value, nil
	}
	if dim.ColumnType != ColumnTypeTimestamp {
		return 0, fmt.Errorf("relative older_than requires a timestamp dimension, %q is %s",
			dim.ColumnName, dim.ColumnType)
	}
	return usec(now.Add(-b.Interval)), nil
}

// RetentionArgs is the stored configuration of a retention job.
type RetentionArgs struct {
	JobID                     int64
	HypertableID              int64
	OlderThan                 Boundary
	Cascade                   bool
	CascadeToMaterializations bool
}

func CreateReorderArgs(ctx context.Context, q DBTX, a *ReorderArgs) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO policy_reorder (job_id, hypertable_id, hypertable_index_name)
		 VALUES (?, ?, ?)`,
		a.JobID, a.HypertableID, a.HypertableIndexName)
	if err != nil {
		return fmt.Errorf("create reorder args: %w", err)
	}
	return nil
}

// FindReorderArgs returns nil when the job has no reorder configuration.
func FindReorderArgs(ctx context.Context, q DBTX, jobID int64) (*ReorderArgs, error) {
	var a ReorderArgs
	err := q.QueryRowContext(ctx,
		`SELECT job_id, hypertable_id, hypertable_index_name
		 FROM policy_reorder WHERE job_id = ?`,
		jobID).Scan(&a.JobID, &a.HypertableID, &a.HypertableIndexName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reorder args: %w", err)
	}
	return &a, nil
}

func CreateRetentionArgs(ctx context.Context, q DBTX, a *RetentionArgs) error {
	var intervalUs, fixedValue sql.NullInt64
	if a.OlderThan.Fixed {
		fixedValue = sql.NullInt64{Int64: a.OlderThan.Value, Valid: true}
	} else {
		intervalUs = sql.NullInt64{Int64: a.OlderThan.Interval.Microseconds(), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO policy_retention
		 (job_id, hypertable_id, older_than_us, older_than_value, "cascade", cascade_to_materializations)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.JobID, a.HypertableID, intervalUs, fixedValue,
		boolToInt(a.Cascade), boolToInt(a.CascadeToMaterializations))
	if err != nil {
		return fmt.Errorf("create retention args: %w", err)
	}
	return nil
}

// FindRetentionArgs returns nil when the job has no retention configuration.
func FindRetentionArgs(ctx context.Context, q DBTX, jobID int64) (*RetentionArgs, error) {
	var a RetentionArgs
	var intervalUs, fixedValue sql.NullInt64
	var cascade, cascadeMat int
	err := q.QueryRowContext(ctx,
		`SELECT job_id, hypertable_id, older_than_us, older_than_value, "cascade", cascade_to_materializations
		 FROM policy_retention WHERE job_id = ?`,
		jobID).Scan(&a.JobID, &a.HypertableID, &intervalUs, &fixedValue, &cascade, &cascadeMat)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find retention args: %w", err)
	}
	if fixedValue.Valid {
		a.OlderThan = Boundary{Value: fixedValue.Int64, Fixed: true}
	} else if intervalUs.Valid {
		a.OlderThan = Boundary{Interval: time.Duration(intervalUs.Int64) * time.Microsecond}
	}
	a.Cascade = cascade != 0
	a.CascadeToMaterializations = cascadeMat != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
