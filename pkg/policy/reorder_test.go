package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

// recordingOps captures which chunks the physical operations were asked
// to act on.
type recordingOps struct {
	reordered []int64
	indexName string
}

func (r *recordingOps) reorder(ctx context.Context, q catalog.DBTX, chunk *catalog.Chunk, idx string) error {
	r.reordered = append(r.reordered, chunk.ID)
	r.indexName = idx
	return nil
}

func TestReorderPicksOldestEligibleChunk(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newHypertable(t, db, "metrics")
	c1 := newChunk(t, db, ht, dim, "metrics_1", 100, 200)
	c2 := newChunk(t, db, ht, dim, "metrics_2", 200, 300)
	c3 := newChunk(t, db, ht, dim, "metrics_3", 300, 400)
	c4 := newChunk(t, db, ht, dim, "metrics_4", 400, 500)

	job := newJob(t, db, catalog.JobTypeReorder)
	require.NoError(t, catalog.CreateReorderArgs(ctx, db, &catalog.ReorderArgs{
		JobID:               job.ID,
		HypertableID:        ht.ID,
		HypertableIndexName: "metrics_ts_idx",
	}))
	require.NoError(t, catalog.MarkJobStart(ctx, db, job.ID, time.Now().UTC()))

	ops := &recordingOps{}
	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{Reorder: ops.reorder})

	ok, err := exec.Execute(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)

	// The oldest chunk goes first; the two newest stay untouched.
	require.Len(t, ops.reordered, 1)
	assert.Equal(t, c1.ID, ops.reordered[0])
	assert.Equal(t, "metrics_ts_idx", ops.indexName)

	ran, err := catalog.HasChunkJobRun(ctx, db, job.ID, c1.ID)
	require.NoError(t, err)
	assert.True(t, ran, "the run-history fact is committed with the reorder")

	t.Run("next run takes the next oldest chunk", func(t *testing.T) {
		ok, err := exec.Execute(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, ops.reordered, 2)
		assert.Equal(t, c2.ID, ops.reordered[1])
	})

	t.Run("the two newest chunks are never selected", func(t *testing.T) {
		ok, err := exec.Execute(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)

		for _, id := range ops.reordered {
			assert.NotEqual(t, c3.ID, id)
			assert.NotEqual(t, c4.ID, id)
		}
	})
}

func TestReorderFastRestart(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newHypertable(t, db, "metrics")
	newChunk(t, db, ht, dim, "metrics_1", 100, 200)
	newChunk(t, db, ht, dim, "metrics_2", 200, 300)
	newChunk(t, db, ht, dim, "metrics_3", 300, 400)
	newChunk(t, db, ht, dim, "metrics_4", 400, 500)

	job := newJob(t, db, catalog.JobTypeReorder)
	require.NoError(t, catalog.CreateReorderArgs(ctx, db, &catalog.ReorderArgs{
		JobID:               job.ID,
		HypertableID:        ht.ID,
		HypertableIndexName: "metrics_ts_idx",
	}))

	lastStart := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, catalog.MarkJobStart(ctx, db, job.ID, lastStart))

	ops := &recordingOps{}
	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{Reorder: ops.reorder})

	t.Run("work remaining pulls next_start back to last_start", func(t *testing.T) {
		ok, err := exec.Execute(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := catalog.FindJob(ctx, db, job.ID)
		require.NoError(t, err)
		assert.Equal(t, lastStart, got.NextStart)
		assert.Equal(t, lastStart, job.NextStart, "the in-memory job record is updated too")
	})

	t.Run("no restart once the last eligible chunk is done", func(t *testing.T) {
		// Push next_start forward so a missing rewrite is observable.
		future := lastStart.Add(24 * time.Hour)
		require.NoError(t, catalog.SetNextStart(ctx, db, job.ID, future))

		ok, err := exec.Execute(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, ops.reordered, 2)

		got, err := catalog.FindJob(ctx, db, job.ID)
		require.NoError(t, err)
		assert.Equal(t, future, got.NextStart)
	})
}

func TestReorderNoEligibleChunks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, dim := newHypertable(t, db, "metrics")
	// Two slices only: the skip-recent margin leaves nothing eligible.
	newChunk(t, db, ht, dim, "metrics_1", 100, 200)
	newChunk(t, db, ht, dim, "metrics_2", 200, 300)

	job := newJob(t, db, catalog.JobTypeReorder)
	require.NoError(t, catalog.CreateReorderArgs(ctx, db, &catalog.ReorderArgs{
		JobID:               job.ID,
		HypertableID:        ht.ID,
		HypertableIndexName: "metrics_ts_idx",
	}))

	ops := &recordingOps{}
	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{Reorder: ops.reorder})

	ok, err := exec.Execute(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok, "an empty selection is a successful run")
	assert.Empty(t, ops.reordered)
}

func TestReorderConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{})

	t.Run("missing args", func(t *testing.T) {
		job := newJob(t, db, catalog.JobTypeReorder)

		_, err := exec.Execute(ctx, job)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "no args in policy table")
	})

	t.Run("vanished hypertable", func(t *testing.T) {
		job := newJob(t, db, catalog.JobTypeReorder)
		require.NoError(t, catalog.CreateReorderArgs(ctx, db, &catalog.ReorderArgs{
			JobID:               job.ID,
			HypertableID:        777,
			HypertableIndexName: "metrics_ts_idx",
		}))

		_, err := exec.Execute(ctx, job)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "does not exist")
	})

	t.Run("no open dimension", func(t *testing.T) {
		ht, err := catalog.CreateHypertable(ctx, db, "public", "dimensionless")
		require.NoError(t, err)

		job := newJob(t, db, catalog.JobTypeReorder)
		require.NoError(t, catalog.CreateReorderArgs(ctx, db, &catalog.ReorderArgs{
			JobID:               job.ID,
			HypertableID:        ht.ID,
			HypertableIndexName: "metrics_ts_idx",
		}))

		_, err = exec.Execute(ctx, job)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "no open dimension")
	})
}
