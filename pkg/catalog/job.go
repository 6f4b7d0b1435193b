package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobType is the closed set of maintenance policies a job can run.
type JobType string

const (
	JobTypeReorder     JobType = "reorder"
	JobTypeRetention   JobType = "retention"
	JobTypeMaterialize JobType = "materialize_continuous_aggregate"
)

// Job is one scheduled maintenance job. The execution core mutates only
// NextStart (fast restart); the schedule fields change through the
// alter-schedule entry point.
type Job struct {
	ID               int64
	Type             JobType
	ScheduleInterval time.Duration
	MaxRuntime       time.Duration
	// MaxRetries < 0 means unlimited scheduler-level retries.
	MaxRetries  int
	RetryPeriod time.Duration
	NextStart   time.Time
}

func CreateJob(ctx context.Context, q DBTX, j *Job) error {
	if j.NextStart.IsZero() {
		j.NextStart = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO jobs
		 (job_type, schedule_interval_us, max_runtime_us, max_retries, retry_period_us, next_start)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(j.Type), j.ScheduleInterval.Microseconds(), j.MaxRuntime.Microseconds(),
		j.MaxRetries, j.RetryPeriod.Microseconds(), usec(j.NextStart))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	j.ID = id
	return nil
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var jobType string
	var scheduleUs, runtimeUs, retryUs, nextStartUs int64
	err := row.Scan(&j.ID, &jobType, &scheduleUs, &runtimeUs, &j.MaxRetries, &retryUs, &nextStartUs)
	if err != nil {
		return nil, err
	}
	j.Type = JobType(jobType)
	j.ScheduleInterval = time.Duration(scheduleUs) * time.Microsecond
	j.MaxRuntime = time.Duration(runtimeUs) * time.Microsecond
	j.RetryPeriod = time.Duration(retryUs) * time.Microsecond
	j.NextStart = fromUsec(nextStartUs)
	return &j, nil
}

const jobColumns = `id, job_type, schedule_interval_us, max_runtime_us, max_retries, retry_period_us, next_start`

// FindJob returns nil when no job with the given id exists.
func FindJob(ctx context.Context, q DBTX, id int64) (*Job, error) {
	j, err := scanJob(q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

func ListJobs(ctx context.Context, q DBTX) ([]Job, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// DueJobs returns jobs whose next_start is at or before now, soonest first.
func DueJobs(ctx context.Context, q DBTX, now time.Time) ([]Job, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE next_start <= ? ORDER BY next_start ASC`,
		usec(now))
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobSchedule persists the mutable schedule fields of a job.
func UpdateJobSchedule(ctx context.Context, q DBTX, j *Job) error {
	res, err := q.ExecContext(ctx,
		`UPDATE jobs
		 SET schedule_interval_us = ?, max_runtime_us = ?, max_retries = ?, retry_period_us = ?
		 WHERE id = ?`,
		j.ScheduleInterval.Microseconds(), j.MaxRuntime.Microseconds(),
		j.MaxRetries, j.RetryPeriod.Microseconds(), j.ID)
	if err != nil {
		return fmt.Errorf("update job schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job schedule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update job schedule: job #%d not found", j.ID)
	}
	return nil
}

// SetNextStart rewrites a job's next run time.
func SetNextStart(ctx context.Context, q DBTX, jobID int64, ts time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE jobs SET next_start = ? WHERE id = ?`, usec(ts), jobID)
	if err != nil {
		return fmt.Errorf("set next_start: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set next_start: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set next_start: job #%d not found", jobID)
	}
	return nil
}
