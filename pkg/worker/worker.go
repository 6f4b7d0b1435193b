// Package worker is the launcher loop that turns due job rows into
// policy invocations: it polls the catalog, runs each due job under its
// max_runtime budget, and keeps the run statistics the retry handling
// and fast-restart logic read.
package worker

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/policy"
)

// DefaultPollInterval is how often the worker looks for due jobs when
// the configuration does not say otherwise.
const DefaultPollInterval = 10 * time.Second

// Worker polls for due jobs and executes them one at a time. Per-job
// concurrency is one by construction: a single worker drains its due
// set sequentially.
type Worker struct {
	db   *sql.DB
	log  *zap.Logger
	exec *policy.Executor
	poll time.Duration
	now  func() time.Time
}

func New(db *sql.DB, log *zap.Logger, exec *policy.Executor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{db: db, log: log, exec: exec, poll: pollInterval, now: time.Now}
}

// WithClock overrides the worker's clock (tests).
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start blocks until ctx is cancelled, polling for due jobs every
// interval.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.log.Info("worker started", zap.Duration("poll_interval", w.poll))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return nil
		case <-ticker.C:
			w.RunDueJobs(ctx)
		}
	}
}

// RunDueJobs executes every job whose next_start has passed.
func (w *Worker) RunDueJobs(ctx context.Context) {
	jobs, err := catalog.DueJobs(ctx, w.db, w.now())
	if err != nil {
		w.log.Error("failed to query due jobs", zap.Error(err))
		return
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.RunJob(ctx, &jobs[i])
	}
}

// RunJob executes one invocation of a job with full bookkeeping: start
// and finish stats, the run diary, retry rescheduling, and metrics.
func (w *Worker) RunJob(ctx context.Context, job *catalog.Job) {
	now := w.now()

	if err := catalog.MarkJobStart(ctx, w.db, job.ID, now); err != nil {
		w.log.Error("failed to mark job start", zap.Int64("job_id", job.ID), zap.Error(err))
		return
	}
	// Push the regular schedule forward before running; a fast restart
	// during the run rewrites next_start again.
	if err := catalog.SetNextStart(ctx, w.db, job.ID, now.Add(job.ScheduleInterval)); err != nil {
		w.log.Error("failed to reschedule job", zap.Int64("job_id", job.ID), zap.Error(err))
		return
	}

	runCtx := ctx
	if job.MaxRuntime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.MaxRuntime)
		defer cancel()
	}

	started := time.Now()
	_, err := w.exec.Execute(runCtx, job)
	jobRunSeconds.WithLabelValues(string(job.Type)).Observe(time.Since(started).Seconds())

	finish := w.now()
	if err != nil {
		w.finishFailed(ctx, job, finish, err)
		return
	}

	if merr := catalog.MarkJobFinish(ctx, w.db, job.ID, finish, catalog.OutcomeSuccess); merr != nil {
		w.log.Error("failed to mark job finish", zap.Int64("job_id", job.ID), zap.Error(merr))
	}
	if eerr := catalog.RecordRunEvent(ctx, w.db, catalog.RunEvent{
		JobID:     job.ID,
		EventType: catalog.EventTypeRunCompleted,
		Severity:  catalog.SeverityInfo,
	}); eerr != nil {
		w.log.Error("failed to record run event", zap.Int64("job_id", job.ID), zap.Error(eerr))
	}
	jobRunsTotal.WithLabelValues(string(job.Type), catalog.OutcomeSuccess).Inc()
}

func (w *Worker) finishFailed(ctx context.Context, job *catalog.Job, finish time.Time, cause error) {
	w.log.Error("job run failed",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Error(cause))

	if err := catalog.MarkJobFinish(ctx, w.db, job.ID, finish, catalog.OutcomeFailed); err != nil {
		w.log.Error("failed to mark job finish", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	detail := cause.Error()
	if err := catalog.RecordRunEvent(ctx, w.db, catalog.RunEvent{
		JobID:     job.ID,
		EventType: catalog.EventTypeRunFailed,
		Severity:  catalog.SeverityError,
		Detail:    &detail,
	}); err != nil {
		w.log.Error("failed to record run event", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	if w.shouldRetry(ctx, job) {
		if err := catalog.SetNextStart(ctx, w.db, job.ID, finish.Add(job.RetryPeriod)); err != nil {
			w.log.Error("failed to schedule retry", zap.Int64("job_id", job.ID), zap.Error(err))
		}
	}

	jobRunsTotal.WithLabelValues(string(job.Type), catalog.OutcomeFailed).Inc()
}

// shouldRetry applies the scheduler-level retry budget: retry while the
// consecutive failure count is within max_retries, or always when
// max_retries is negative (unlimited).
func (w *Worker) shouldRetry(ctx context.Context, job *catalog.Job) bool {
	if job.RetryPeriod <= 0 {
		return false
	}
	if job.MaxRetries < 0 {
		return true
	}
	stat, err := catalog.FindJobStat(ctx, w.db, job.ID)
	if err != nil || stat == nil {
		return false
	}
	return stat.ConsecutiveFailures <= int64(job.MaxRetries)
}
