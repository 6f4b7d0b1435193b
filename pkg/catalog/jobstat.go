package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run outcomes recorded in job_stats.last_outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// JobRunStat is the per-job run history row. Created lazily on the
// first run and updated after every run.
type JobRunStat struct {
	JobID               int64
	LastStart           time.Time
	LastFinish          time.Time
	LastOutcome         string
	TotalRuns           int64
	TotalFailures       int64
	ConsecutiveFailures int64
}

// FindJobStat returns nil when the job has never run.
func FindJobStat(ctx context.Context, q DBTX, jobID int64) (*JobRunStat, error) {
	var s JobRunStat
	var lastStart, lastFinish sql.NullInt64
	var outcome sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT job_id, last_start, last_finish, last_outcome,
		        total_runs, total_failures, consecutive_failures
		 FROM job_stats WHERE job_id = ?`,
		jobID).Scan(&s.JobID, &lastStart, &lastFinish, &outcome,
		&s.TotalRuns, &s.TotalFailures, &s.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job stat: %w", err)
	}
	if lastStart.Valid {
		s.LastStart = fromUsec(lastStart.Int64)
	}
	if lastFinish.Valid {
		s.LastFinish = fromUsec(lastFinish.Int64)
	}
	if outcome.Valid {
		s.LastOutcome = outcome.String
	}
	return &s, nil
}

// MarkJobStart records the start of a run, creating the stats row on
// the job's first run.
func MarkJobStart(ctx context.Context, q DBTX, jobID int64, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO job_stats (job_id, last_start) VALUES (?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET last_start = excluded.last_start`,
		jobID, usec(now))
	if err != nil {
		return fmt.Errorf("mark job start: %w", err)
	}
	return nil
}

// MarkJobFinish records the outcome of a run and updates the failure
// counters read by the scheduler's retry handling.
func MarkJobFinish(ctx context.Context, q DBTX, jobID int64, now time.Time, outcome string) error {
	var res sql.Result
	var err error
	if outcome == OutcomeFailed {
		res, err = q.ExecContext(ctx,
			`UPDATE job_stats
			 SET last_finish = ?, last_outcome = ?,
			     total_runs = total_runs + 1,
			     total_failures = total_failures + 1,
			     consecutive_failures = consecutive_failures + 1
			 WHERE job_id = ?`,
			usec(now), outcome, jobID)
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE job_stats
			 SET last_finish = ?, last_outcome = ?,
			     total_runs = total_runs + 1,
			     consecutive_failures = 0
			 WHERE job_id = ?`,
			usec(now), outcome, jobID)
	}
	if err != nil {
		return fmt.Errorf("mark job finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job finish: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark job finish: no stats row for job #%d", jobID)
	}
	return nil
}
