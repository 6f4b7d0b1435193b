// Package physical holds the reference implementations of the opaque
// storage operations the policies invoke: chunk reorder, chunk drop,
// and the incremental materialization pass. They operate on the same
// SQLite database that backs the catalog, with one data table per chunk.
package physical

import (
	"context"
	"fmt"

	"github.com/tidelake/maintd/pkg/catalog"
)

// Reorder rewrites a chunk's data table in the order of the index that
// corresponds to the hypertable index named in the policy args. The
// rewrite is a sorted copy-and-swap, so readers before the swap see the
// old table and readers after see the reordered one.
func Reorder(ctx context.Context, q catalog.DBTX, chunk *catalog.Chunk, hypertableIndexName string) error {
	idx, err := catalog.FindChunkIndex(ctx, q, chunk.ID, hypertableIndexName)
	if err != nil {
		return err
	}
	if idx == nil {
		return fmt.Errorf("chunk %s has no index for hypertable index %q",
			chunk.QualifiedName(), hypertableIndexName)
	}

	table := chunk.TableName
	tmp := table + "_reorder_tmp"

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %q AS SELECT * FROM %q ORDER BY %q`, tmp, table, idx.IndexedColumn),
		fmt.Sprintf(`DROP TABLE %q`, table),
		fmt.Sprintf(`ALTER TABLE %q RENAME TO %q`, tmp, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (%q)`, idx.IndexName, table, idx.IndexedColumn),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reorder %s: %w", chunk.QualifiedName(), err)
		}
	}
	return nil
}
