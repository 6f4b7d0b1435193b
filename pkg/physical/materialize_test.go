package physical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

func TestMaterializerDrainsInBatches(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, _ := newTimeHypertable(t, db, "metrics")
	job := &catalog.Job{Type: catalog.JobTypeMaterialize, ScheduleInterval: time.Hour, NextStart: time.Now().UTC()}
	require.NoError(t, catalog.CreateJob(ctx, db, job))
	ca := &catalog.ContinuousAggregate{JobID: job.ID, HypertableID: ht.ID}
	require.NoError(t, catalog.CreateContinuousAggregate(ctx, db, ca))

	for _, r := range [][2]int64{{100, 200}, {200, 300}, {300, 400}} {
		require.NoError(t, catalog.AddInvalidation(ctx, db, &catalog.InvalidationEntry{
			MaterializationID: ca.MaterializationID,
			LowestModified:    r[0],
			GreatestModified:  r[1],
		}))
	}

	m := NewMaterializer(db, zap.NewNop(), 2)

	t.Run("partial batch reports more work", func(t *testing.T) {
		completed, err := m.Run(ctx, ca.MaterializationID, true)
		require.NoError(t, err)
		assert.False(t, completed)

		remaining, err := catalog.CountPendingInvalidations(ctx, db, ca.MaterializationID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), remaining)

		got, err := catalog.FindMaterializationByJob(ctx, db, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Watermark)
		assert.Equal(t, int64(300), *got.Watermark)
	})

	t.Run("final batch completes", func(t *testing.T) {
		completed, err := m.Run(ctx, ca.MaterializationID, false)
		require.NoError(t, err)
		assert.True(t, completed)

		remaining, err := catalog.CountPendingInvalidations(ctx, db, ca.MaterializationID)
		require.NoError(t, err)
		assert.Zero(t, remaining)

		got, err := catalog.FindMaterializationByJob(ctx, db, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Watermark)
		assert.Equal(t, int64(400), *got.Watermark)
	})

	t.Run("empty log is already complete", func(t *testing.T) {
		completed, err := m.Run(ctx, ca.MaterializationID, false)
		require.NoError(t, err)
		assert.True(t, completed)
	})
}

func TestNewMaterializerDefaultsBatchLimit(t *testing.T) {
	db := newTestDB(t)
	m := NewMaterializer(db, zap.NewNop(), 0)
	assert.Equal(t, DefaultBatchLimit, m.batchLimit)
}
