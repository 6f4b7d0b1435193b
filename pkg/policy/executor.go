// Package policy is the execution core of the maintenance-job
// subsystem: given a scheduled job record it dispatches to the matching
// partitioned-storage policy, manages the transaction boundary around
// it, records outcome, and decides whether the job should be fast
// restarted because work remains.
package policy

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

// License is the entitlement surface the dispatcher consults.
type License interface {
	Entitled() bool
	WarnIfExpiring(log *zap.Logger)
}

// ReorderFunc physically reorders one chunk, translating the
// hypertable index reference to the chunk's own index.
type ReorderFunc func(ctx context.Context, q catalog.DBTX, chunk *catalog.Chunk, hypertableIndexName string) error

// DropChunksFunc drops every chunk of the hypertable whose open-dimension
// range ends at or before cutoff, honoring the cascade flags. It
// returns the number of chunks dropped.
type DropChunksFunc func(ctx context.Context, q catalog.DBTX, ht *catalog.Hypertable, dim *catalog.Dimension, cutoff int64, cascade, cascadeToMaterializations bool) (int, error)

// MaterializeFunc runs one bounded materialization pass and reports
// whether all outstanding data was materialized.
type MaterializeFunc func(ctx context.Context, materializationID int64, verbose bool) (bool, error)

// Ops bundles the physical operation collaborators.
type Ops struct {
	Reorder     ReorderFunc
	DropChunks  DropChunksFunc
	Materialize MaterializeFunc
}

// Executor dispatches maintenance jobs to their policies.
type Executor struct {
	db      *sql.DB
	log     *zap.Logger
	license License
	ops     Ops
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the executor's clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(db *sql.DB, log *zap.Logger, lic License, ops Ops, opts ...Option) *Executor {
	e := &Executor{
		db:      db,
		log:     log,
		license: lic,
		ops:     ops,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// requiresEntitlement is the fixed job-type → entitlement requirement
// table. It must stay exhaustive over all known job types.
func requiresEntitlement(t catalog.JobType) (bool, error) {
	switch t {
	case catalog.JobTypeReorder:
		return true, nil
	case catalog.JobTypeRetention:
		return true, nil
	case catalog.JobTypeMaterialize:
		return false, nil
	default:
		return false, &UnknownJobTypeError{Type: t}
	}
}

// Execute runs one invocation of a job in its own transaction scope.
func (e *Executor) Execute(ctx context.Context, job *catalog.Job) (bool, error) {
	return e.ExecuteInTx(ctx, job, nil)
}

// ExecuteInTx runs one invocation of a job. When ambient is non-nil the
// policy executes inside the caller's transaction and never commits it;
// otherwise the invocation owns its transaction end to end.
func (e *Executor) ExecuteInTx(ctx context.Context, job *catalog.Job, ambient *sql.Tx) (bool, error) {
	e.license.WarnIfExpiring(e.log)

	required, err := requiresEntitlement(job.Type)
	if err != nil {
		return false, err
	}
	if required && !e.license.Entitled() {
		return false, &EntitlementError{Op: string(job.Type) + " job"}
	}

	switch job.Type {
	case catalog.JobTypeReorder:
		return e.executeReorder(ctx, job, ambient, true)
	case catalog.JobTypeRetention:
		return e.executeRetention(ctx, job, ambient)
	case catalog.JobTypeMaterialize:
		return e.executeMaterialize(ctx, job, ambient)
	default:
		return false, &UnknownJobTypeError{Type: job.Type}
	}
}
