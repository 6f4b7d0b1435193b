package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run event severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Run event types.
const (
	EventTypeRunStarted   = "run_started"
	EventTypeRunCompleted = "run_completed"
	EventTypeRunFailed    = "run_failed"
)

// RunEvent is one entry in the structured run diary kept per job.
type RunEvent struct {
	EventID    string
	JobID      int64
	OccurredAt time.Time
	EventType  string
	Severity   string
	Detail     *string
}

// RecordRunEvent appends a run event; an empty EventID gets a fresh uuid.
func RecordRunEvent(ctx context.Context, q DBTX, ev RunEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO job_run_events (event_id, job_id, occurred_at, event_type, severity, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.JobID, usec(ev.OccurredAt), ev.EventType, ev.Severity, ev.Detail)
	if err != nil {
		return fmt.Errorf("record run event: %w", err)
	}
	return nil
}

// ListRunEvents retrieves a job's run events, oldest first.
func ListRunEvents(ctx context.Context, q DBTX, jobID int64) ([]RunEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT event_id, job_id, occurred_at, event_type, severity, detail
		 FROM job_run_events
		 WHERE job_id = ?
		 ORDER BY occurred_at ASC, event_id ASC`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var occurredUs int64
		var detail sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.JobID, &occurredUs, &ev.EventType, &ev.Severity, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		ev.OccurredAt = fromUsec(occurredUs)
		if detail.Valid {
			ev.Detail = &detail.String
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return events, nil
}
