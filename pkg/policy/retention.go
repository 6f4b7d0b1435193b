package policy

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/txn"
)

func (e *Executor) executeRetention(ctx context.Context, job *catalog.Job, ambient *sql.Tx) (ok bool, err error) {
	// Retention pins a snapshot so the catalog reads backing the drop
	// observe one consistent state.
	scope, err := txn.EnsureSnapshot(ctx, e.db, ambient)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := scope.Close(err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	q := scope.Tx()

	args, err := catalog.FindRetentionArgs(ctx, q, job.ID)
	if err != nil {
		return false, err
	}
	if args == nil {
		return false, &ConfigurationError{Policy: "retention", JobID: job.ID, Reason: "no args in policy table"}
	}

	ht, err := catalog.GetHypertable(ctx, q, args.HypertableID)
	if err != nil {
		return false, err
	}
	if ht == nil {
		return false, &ConfigurationError{
			Policy: "retention",
			JobID:  job.ID,
			Reason: fmt.Sprintf("relation #%d is not a hypertable", args.HypertableID),
		}
	}

	dim, err := catalog.OpenDimension(ctx, q, ht.ID)
	if err != nil {
		return false, err
	}
	if dim == nil {
		return false, &ConfigurationError{
			Policy: "retention",
			JobID:  job.ID,
			Reason: fmt.Sprintf("hypertable %s has no open dimension", ht.QualifiedName()),
		}
	}

	cutoff, err := args.OlderThan.CutoffAt(e.now(), dim)
	if err != nil {
		return false, &ConfigurationError{Policy: "retention", JobID: job.ID, Reason: err.Error()}
	}

	dropped, err := e.ops.DropChunks(ctx, q, ht, dim, cutoff, args.Cascade, args.CascadeToMaterializations)
	if err != nil {
		return false, fmt.Errorf("drop chunks for %s: %w", ht.QualifiedName(), err)
	}

	e.log.Info("completed dropping chunks",
		zap.Int64("job_id", job.ID),
		zap.String("hypertable", ht.QualifiedName()),
		zap.Int("chunks_dropped", dropped))

	return true, nil
}
