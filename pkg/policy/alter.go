package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

// AlterScheduleParams carries the optional schedule overrides for one
// job; nil fields are left unchanged.
type AlterScheduleParams struct {
	JobID            int64
	ScheduleInterval *time.Duration
	MaxRuntime       *time.Duration
	MaxRetries       *int
	RetryPeriod      *time.Duration

	// IfExists makes a missing job a logged no-op instead of an error.
	IfExists bool
}

// AlterJobSchedule updates the schedule fields of an existing job and
// returns the updated record. A missing job yields JobNotFoundError,
// or (nil, nil) when the caller set IfExists.
func (e *Executor) AlterJobSchedule(ctx context.Context, p AlterScheduleParams) (*catalog.Job, error) {
	e.license.WarnIfExpiring(e.log)
	if !e.license.Entitled() {
		return nil, &EntitlementError{Op: "alter policy schedule"}
	}

	job, err := catalog.FindJob(ctx, e.db, p.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		if p.IfExists {
			e.log.Info("cannot alter policy schedule, policy not found, skipping",
				zap.Int64("job_id", p.JobID))
			return nil, nil
		}
		return nil, &JobNotFoundError{JobID: p.JobID}
	}

	if p.ScheduleInterval != nil {
		job.ScheduleInterval = *p.ScheduleInterval
	}
	if p.MaxRuntime != nil {
		job.MaxRuntime = *p.MaxRuntime
	}
	if p.MaxRetries != nil {
		job.MaxRetries = *p.MaxRetries
	}
	if p.RetryPeriod != nil {
		job.RetryPeriod = *p.RetryPeriod
	}

	if err := catalog.UpdateJobSchedule(ctx, e.db, job); err != nil {
		return nil, err
	}
	return job, nil
}
