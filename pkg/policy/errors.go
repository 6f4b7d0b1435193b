package policy

import (
	"fmt"

	"github.com/tidelake/maintd/pkg/catalog"
)

// ConfigurationError means a job's stored configuration is missing or
// stale (no policy args, vanished hypertable, unbound materialization).
// Fatal for the invocation; the job is attempted again only at its next
// scheduled run.
type ConfigurationError struct {
	Policy string
	JobID  int64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("could not run %s policy #%d because %s", e.Policy, e.JobID, e.Reason)
}

// EntitlementError means the deployment lacks the license required for
// the attempted operation. No policy logic has run.
type EntitlementError struct {
	Op string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("cannot run %s: enterprise license required", e.Op)
}

// UnknownJobTypeError is defensive: the dispatcher was handed a job
// type outside the closed policy set.
type UnknownJobTypeError struct {
	Type catalog.JobType
}

func (e *UnknownJobTypeError) Error() string {
	return fmt.Sprintf("scheduler tried to run an invalid job type: %q", string(e.Type))
}

// JobNotFoundError is returned by the alter-schedule entry point when
// the job does not exist and the caller did not opt into tolerance.
type JobNotFoundError struct {
	JobID int64
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("cannot alter policy schedule, policy #%d not found", e.JobID)
}
