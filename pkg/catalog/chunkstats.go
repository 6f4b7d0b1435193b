package catalog

import (
	"context"
	"fmt"
	"time"
)

// RecordChunkJobRun records that a job processed a chunk. The insert is
// idempotent: at most one "has run" fact exists per (job, chunk), and a
// repeat run refreshes its timestamp.
func RecordChunkJobRun(ctx context.Context, q DBTX, jobID, chunkID int64, ts time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO chunk_job_history (job_id, chunk_id, last_run_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(job_id, chunk_id) DO UPDATE SET last_run_at = excluded.last_run_at`,
		jobID, chunkID, usec(ts))
	if err != nil {
		return fmt.Errorf("record chunk job run: %w", err)
	}
	return nil
}

// HasChunkJobRun reports whether a job has ever processed a chunk.
func HasChunkJobRun(ctx context.Context, q DBTX, jobID, chunkID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_job_history WHERE job_id = ? AND chunk_id = ?`,
		jobID, chunkID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has chunk job run: %w", err)
	}
	return n > 0, nil
}
