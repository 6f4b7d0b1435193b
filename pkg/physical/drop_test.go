package physical

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelake/maintd/pkg/catalog"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n > 0
}

func TestDropChunksHonorsCutoff(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newTimeHypertable(t, db, "metrics")
	newChunkWithData(t, db, ht, dim, "metrics_30", 30, 40)
	newChunkWithData(t, db, ht, dim, "metrics_40", 40, 50)
	newChunkWithData(t, db, ht, dim, "metrics_50", 50, 60)

	// Chunks ending at or before the cutoff go; the one ending past it
	// stays.
	dropped, err := DropChunks(ctx, db, ht, dim, 50, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	assert.False(t, tableExists(t, db, "metrics_30"))
	assert.False(t, tableExists(t, db, "metrics_40"))
	assert.True(t, tableExists(t, db, "metrics_50"))

	remaining, err := catalog.ChunksWithRangeEndBefore(ctx, db, dim.ID, 1000)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "metrics_50", remaining[0].TableName)
}

func TestDropChunksCascade(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newTimeHypertable(t, db, "metrics")
	chunk := newChunkWithData(t, db, ht, dim, "metrics_1", 100, 200)
	require.NoError(t, catalog.AddChunkIndex(ctx, db, &catalog.ChunkIndex{
		ChunkID:             chunk.ID,
		IndexName:           "metrics_1_ts_idx",
		IndexedColumn:       "ts",
		HypertableID:        ht.ID,
		HypertableIndexName: "metrics_ts_idx",
	}))

	t.Run("dependent indexes block a plain drop", func(t *testing.T) {
		_, err := DropChunks(ctx, db, ht, dim, 200, false, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires cascade")
		assert.True(t, tableExists(t, db, "metrics_1"))
	})

	t.Run("cascade removes the index metadata too", func(t *testing.T) {
		dropped, err := DropChunks(ctx, db, ht, dim, 200, true, false)
		require.NoError(t, err)
		assert.Equal(t, 1, dropped)
		assert.False(t, tableExists(t, db, "metrics_1"))

		n, err := catalog.CountChunkIndexes(ctx, db, chunk.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestDropChunksCascadeToMaterializations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newTimeHypertable(t, db, "metrics")
	newChunkWithData(t, db, ht, dim, "metrics_1", 100, 200)

	job := &catalog.Job{Type: catalog.JobTypeMaterialize, ScheduleInterval: time.Hour, NextStart: time.Now().UTC()}
	require.NoError(t, catalog.CreateJob(ctx, db, job))
	ca := &catalog.ContinuousAggregate{JobID: job.ID, HypertableID: ht.ID}
	require.NoError(t, catalog.CreateContinuousAggregate(ctx, db, ca))

	for _, r := range [][2]int64{{100, 150}, {150, 200}, {200, 300}} {
		require.NoError(t, catalog.AddInvalidation(ctx, db, &catalog.InvalidationEntry{
			MaterializationID: ca.MaterializationID,
			LowestModified:    r[0],
			GreatestModified:  r[1],
		}))
	}

	dropped, err := DropChunks(ctx, db, ht, dim, 200, false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	// Invalidations fully below the cutoff are discarded; the range
	// reaching past it survives.
	entries, err := catalog.PendingInvalidations(ctx, db, ca.MaterializationID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(300), entries[0].GreatestModified)
}

func TestDropChunksNothingToDo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newTimeHypertable(t, db, "metrics")
	newChunkWithData(t, db, ht, dim, "metrics_1", 100, 200)

	dropped, err := DropChunks(ctx, db, ht, dim, 99, false, false)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.True(t, tableExists(t, db, "metrics_1"))
}
