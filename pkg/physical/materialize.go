package physical

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

// DefaultBatchLimit bounds how many invalidated ranges one
// materialization pass processes.
const DefaultBatchLimit = 10

// Materializer drains a materialization's invalidation log in bounded
// batches, advancing the watermark as ranges are folded in. Each pass
// runs in its own transaction; the policy driver deliberately holds no
// transaction while a pass runs.
type Materializer struct {
	db         *sql.DB
	log        *zap.Logger
	batchLimit int
}

func NewMaterializer(db *sql.DB, log *zap.Logger, batchLimit int) *Materializer {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Materializer{db: db, log: log, batchLimit: batchLimit}
}

// Run executes one materialization pass and reports whether all
// outstanding data was materialized (false means a partial batch and
// more work remaining).
func (m *Materializer) Run(ctx context.Context, materializationID int64, verbose bool) (completed bool, err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin materialization tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entries, err := catalog.PendingInvalidations(ctx, tx, materializationID, m.batchLimit)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if verbose {
			m.log.Info("materializing invalidated range",
				zap.Int64("materialization_id", materializationID),
				zap.Int64("lowest_modified", e.LowestModified),
				zap.Int64("greatest_modified", e.GreatestModified))
		}
		if err := catalog.UpdateMaterializationWatermark(ctx, tx, materializationID, e.GreatestModified); err != nil {
			return false, err
		}
		if err := catalog.DeleteInvalidation(ctx, tx, e.ID); err != nil {
			return false, err
		}
	}

	remaining, err := catalog.CountPendingInvalidations(ctx, tx, materializationID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit materialization tx: %w", err)
	}

	return remaining == 0, nil
}
