package policy

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/txn"
)

// reorderSkipRecentSlices is the fixed skip-recent margin: an eligible
// chunk must be at least the Nth newest on the open dimension. Recent
// chunks are still being written to and reordering them is wasteful.
// The slice count stands in for the chunk count, so the margin is not
// exact when slices and chunks diverge.
const reorderSkipRecentSlices = 3

func (e *Executor) executeReorder(ctx context.Context, job *catalog.Job, ambient *sql.Tx, fastContinue bool) (ok bool, err error) {
	scope, err := txn.Ensure(ctx, e.db, ambient)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := scope.Close(err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	q := scope.Tx()

	args, err := catalog.FindReorderArgs(ctx, q, job.ID)
	if err != nil {
		return false, err
	}
	if args == nil {
		return false, &ConfigurationError{Policy: "reorder", JobID: job.ID, Reason: "no args in policy table"}
	}

	ht, err := catalog.GetHypertable(ctx, q, args.HypertableID)
	if err != nil {
		return false, err
	}
	if ht == nil {
		return false, &ConfigurationError{
			Policy: "reorder",
			JobID:  job.ID,
			Reason: fmt.Sprintf("hypertable #%d does not exist", args.HypertableID),
		}
	}

	chunk, err := e.chunkToReorder(ctx, q, job.ID, ht)
	if err != nil {
		return false, err
	}
	if chunk == nil {
		e.log.Info("no chunks need reordering",
			zap.Int64("job_id", job.ID),
			zap.String("hypertable", ht.QualifiedName()))
		return true, nil
	}

	e.log.Info("reordering chunk",
		zap.Int64("job_id", job.ID),
		zap.String("chunk", chunk.QualifiedName()))

	// The args carry the hypertable's index name; the physical reorder
	// translates it to the index on the specific chunk.
	if err := e.ops.Reorder(ctx, q, chunk, args.HypertableIndexName); err != nil {
		return false, fmt.Errorf("reorder chunk %s: %w", chunk.QualifiedName(), err)
	}

	e.log.Info("completed reordering chunk",
		zap.Int64("job_id", job.ID),
		zap.String("chunk", chunk.QualifiedName()))

	if err := catalog.RecordChunkJobRun(ctx, q, job.ID, chunk.ID, e.now()); err != nil {
		return false, err
	}

	if fastContinue {
		next, err := e.chunkToReorder(ctx, q, job.ID, ht)
		if err != nil {
			return false, err
		}
		if next != nil {
			if err := e.fastRestart(ctx, q, job, "reorder"); err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

// chunkToReorder selects the next chunk the reorder job should act on:
// the oldest chunk at or before the skip-recent boundary that has no
// run-history fact for this job. "Not reordered recently" currently
// means not reordered at all.
func (e *Executor) chunkToReorder(ctx context.Context, q catalog.DBTX, jobID int64, ht *catalog.Hypertable) (*catalog.Chunk, error) {
	dim, err := catalog.OpenDimension(ctx, q, ht.ID)
	if err != nil {
		return nil, err
	}
	if dim == nil {
		return nil, &ConfigurationError{
			Policy: "reorder",
			JobID:  jobID,
			Reason: fmt.Sprintf("hypertable %s has no open dimension", ht.QualifiedName()),
		}
	}

	nth, err := catalog.NthLatestSlice(ctx, q, dim.ID, reorderSkipRecentSlices)
	if err != nil {
		return nil, err
	}
	if nth == nil {
		return nil, nil
	}

	return catalog.OldestChunkWithoutJobRun(ctx, q, jobID, dim.ID, nth.RangeStart)
}
