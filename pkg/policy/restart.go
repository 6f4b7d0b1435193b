package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

// fastRestart rewrites the job's next_start to its last_start so the
// scheduler treats the job as due again immediately, bypassing the
// schedule interval. This is a work-remaining signal, not a retry: it
// never touches max_retries or retry_period.
func (e *Executor) fastRestart(ctx context.Context, q catalog.DBTX, job *catalog.Job, name string) error {
	stat, err := catalog.FindJobStat(ctx, q, job.ID)
	if err != nil {
		return err
	}
	if stat == nil {
		return fmt.Errorf("cannot fast restart job #%d: no run stats", job.ID)
	}

	if err := catalog.SetNextStart(ctx, q, job.ID, stat.LastStart); err != nil {
		return err
	}
	job.NextStart = stat.LastStart

	e.log.Info(fmt.Sprintf("the %s job is scheduled to run again immediately", name),
		zap.Int64("job_id", job.ID))
	return nil
}
