package policy

import (
	"context"
	"database/sql"

	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/txn"
)

// executeMaterialize advances a continuous aggregate. It is the only
// policy spanning more than one transaction per invocation: the target
// lookup transaction is committed before the materialization pass so
// the pass does not run under the lookup's locks and snapshot, and a
// fresh transaction carries the bookkeeping afterwards.
func (e *Executor) executeMaterialize(ctx context.Context, job *catalog.Job, ambient *sql.Tx) (ok bool, err error) {
	scope, err := txn.Ensure(ctx, e.db, ambient)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := scope.Close(err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cagg, err := catalog.FindMaterializationByJob(ctx, scope.Tx(), job.ID)
	if err != nil {
		return false, err
	}
	if cagg == nil {
		return false, &ConfigurationError{
			Policy: "materialize continuous aggregate",
			JobID:  job.ID,
			Reason: "no continuous aggregate bound to the job",
		}
	}

	if err := scope.Break(); err != nil {
		return false, err
	}

	// Always materialize verbosely for now.
	completed, err := e.ops.Materialize(ctx, cagg.MaterializationID, true)
	if err != nil {
		return false, err
	}

	if err := scope.Renew(ctx); err != nil {
		return false, err
	}

	if !completed {
		if err := e.fastRestart(ctx, scope.Tx(), job, "materialize continuous aggregate"); err != nil {
			return false, err
		}
	}

	return true, nil
}
