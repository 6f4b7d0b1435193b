package physical

import (
	"context"
	"fmt"

	"github.com/tidelake/maintd/pkg/catalog"
)

// DropChunks drops every chunk of the hypertable whose open-dimension
// range ends at or before the cutoff (boundary inclusive): the data
// table and all chunk metadata. Without cascade, a chunk that still
// carries dependent index metadata refuses to drop; with
// cascadeToMaterializations, pending invalidation-log entries for data
// below the cutoff are discarded as well.
func DropChunks(ctx context.Context, q catalog.DBTX, ht *catalog.Hypertable, dim *catalog.Dimension, cutoff int64, cascade, cascadeToMaterializations bool) (int, error) {
	chunks, err := catalog.ChunksWithRangeEndBefore(ctx, q, dim.ID, cutoff)
	if err != nil {
		return 0, err
	}

	for i := range chunks {
		c := &chunks[i]

		if cascade {
			if err := catalog.DeleteChunkIndexes(ctx, q, c.ID); err != nil {
				return 0, err
			}
		} else {
			n, err := catalog.CountChunkIndexes(ctx, q, c.ID)
			if err != nil {
				return 0, err
			}
			if n > 0 {
				return 0, fmt.Errorf("chunk %s has dependent indexes, drop requires cascade",
					c.QualifiedName())
			}
		}

		if _, err := q.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, c.TableName)); err != nil {
			return 0, fmt.Errorf("drop chunk table %s: %w", c.QualifiedName(), err)
		}

		if err := catalog.DeleteChunk(ctx, q, c.ID); err != nil {
			return 0, err
		}
	}

	if cascadeToMaterializations {
		if err := catalog.DeleteInvalidationsBelow(ctx, q, ht.ID, cutoff); err != nil {
			return 0, err
		}
	}

	return len(chunks), nil
}
