package catalog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMaterialization(t *testing.T, db *sql.DB) *ContinuousAggregate {
	t.Helper()
	ctx := context.Background()

	job := &Job{Type: JobTypeMaterialize, ScheduleInterval: time.Hour, NextStart: time.Now().UTC()}
	require.NoError(t, CreateJob(ctx, db, job))

	ht, err := CreateHypertable(ctx, db, "public", "metrics")
	require.NoError(t, err)

	ca := &ContinuousAggregate{JobID: job.ID, HypertableID: ht.ID}
	require.NoError(t, CreateContinuousAggregate(ctx, db, ca))
	return ca
}

func TestFindMaterializationByJob(t *testing.T) {
	ctx := context.Background()
	db := newTestCatalog(t)

	ca := buildMaterialization(t, db)

	got, err := FindMaterializationByJob(ctx, db, ca.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ca.MaterializationID, got.MaterializationID)
	assert.Nil(t, got.Watermark)

	missing, err := FindMaterializationByJob(ctx, db, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWatermarkIsMonotonic(t *testing.T) {
	ctx := context.Background()
	db := newTestCatalog(t)

	ca := buildMaterialization(t, db)

	require.NoError(t, UpdateMaterializationWatermark(ctx, db, ca.MaterializationID, 500))
	got, err := FindMaterializationByJob(ctx, db, ca.JobID)
	require.NoError(t, err)
	require.NotNil(t, got.Watermark)
	assert.Equal(t, int64(500), *got.Watermark)

	// A lower value never moves the watermark back.
	require.NoError(t, UpdateMaterializationWatermark(ctx, db, ca.MaterializationID, 300))
	got, err = FindMaterializationByJob(ctx, db, ca.JobID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), *got.Watermark)

	require.NoError(t, UpdateMaterializationWatermark(ctx, db, ca.MaterializationID, 800))
	got, err = FindMaterializationByJob(ctx, db, ca.JobID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), *got.Watermark)
}

func TestInvalidationLog(t *testing.T) {
	ctx := context.Background()
	db := newTestCatalog(t)

	ca := buildMaterialization(t, db)

	for _, r := range [][2]int64{{300, 400}, {100, 200}, {500, 600}} {
		require.NoError(t, AddInvalidation(ctx, db, &InvalidationEntry{
			MaterializationID: ca.MaterializationID,
			LowestModified:    r[0],
			GreatestModified:  r[1],
		}))
	}

	t.Run("pending entries come oldest range first", func(t *testing.T) {
		entries, err := PendingInvalidations(ctx, db, ca.MaterializationID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, int64(100), entries[0].LowestModified)
		assert.Equal(t, int64(300), entries[1].LowestModified)
		assert.Equal(t, int64(500), entries[2].LowestModified)
	})

	t.Run("limit bounds the batch", func(t *testing.T) {
		entries, err := PendingInvalidations(ctx, db, ca.MaterializationID, 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("delete one entry", func(t *testing.T) {
		entries, err := PendingInvalidations(ctx, db, ca.MaterializationID, 1)
		require.NoError(t, err)
		require.NoError(t, DeleteInvalidation(ctx, db, entries[0].ID))

		n, err := CountPendingInvalidations(ctx, db, ca.MaterializationID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("delete below cutoff", func(t *testing.T) {
		// Remaining ranges: [300,400] and [500,600].
		require.NoError(t, DeleteInvalidationsBelow(ctx, db, ca.HypertableID, 400))

		entries, err := PendingInvalidations(ctx, db, ca.MaterializationID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(500), entries[0].LowestModified)
	})
}
