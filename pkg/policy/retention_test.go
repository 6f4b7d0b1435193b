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

// recordingDrop captures the drop request the policy issues.
type recordingDrop struct {
	calls     int
	cutoff    int64
	cascade   bool
	cascadeTM bool
	dropped   int
}

func (r *recordingDrop) drop(ctx context.Context, q catalog.DBTX, ht *catalog.Hypertable, dim *catalog.Dimension, cutoff int64, cascade, cascadeToMaterializations bool) (int, error) {
	r.calls++
	r.cutoff = cutoff
	r.cascade = cascade
	r.cascadeTM = cascadeToMaterializations
	return r.dropped, nil
}

func TestRetentionFixedBoundary(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, _ := newHypertable(t, db, "metrics")
	job := newJob(t, db, catalog.JobTypeRetention)
	require.NoError(t, catalog.CreateRetentionArgs(ctx, db, &catalog.RetentionArgs{
		JobID:        job.ID,
		HypertableID: ht.ID,
		OlderThan:    catalog.Boundary{Value: 5000, Fixed: true},
		Cascade:      true,
	}))

	drop := &recordingDrop{dropped: 2}
	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{DropChunks: drop.drop})

	ok, err := exec.Execute(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, drop.calls)
	assert.Equal(t, int64(5000), drop.cutoff)
	assert.True(t, drop.cascade)
	assert.False(t, drop.cascadeTM)
}

func TestRetentionRelativeBoundaryUsesClock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ht, _ := newHypertable(t, db, "metrics")
	job := newJob(t, db, catalog.JobTypeRetention)
	require.NoError(t, catalog.CreateRetentionArgs(ctx, db, &catalog.RetentionArgs{
		JobID:        job.ID,
		HypertableID: ht.ID,
		OlderThan:    catalog.Boundary{Interval: 90 * 24 * time.Hour},
	}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	drop := &recordingDrop{}
	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true},
		Ops{DropChunks: drop.drop}, WithClock(func() time.Time { return now }))

	ok, err := exec.Execute(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now.Add(-90*24*time.Hour).UnixMicro(), drop.cutoff)
}

func TestRetentionConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{})

	t.Run("missing args", func(t *testing.T) {
		job := newJob(t, db, catalog.JobTypeRetention)

		_, err := exec.Execute(ctx, job)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "retention", cfgErr.Policy)
		assert.Contains(t, cfgErr.Reason, "no args in policy table")
	})

	t.Run("vanished hypertable", func(t *testing.T) {
		job := newJob(t, db, catalog.JobTypeRetention)
		require.NoError(t, catalog.CreateRetentionArgs(ctx, db, &catalog.RetentionArgs{
			JobID:        job.ID,
			HypertableID: 777,
			OlderThan:    catalog.Boundary{Value: 100, Fixed: true},
		}))

		_, err := exec.Execute(ctx, job)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "not a hypertable")
	})

	t.Run("relative boundary on an integer dimension", func(t *testing.T) {
		ht, err := catalog.CreateHypertable(ctx, db, "public", "sequenced")
		require.NoError(t, err)
		require.NoError(t, catalog.CreateDimension(ctx, db, &catalog.Dimension{
			HypertableID: ht.ID,
			ColumnName:   "seq",
			ColumnType:   catalog.ColumnTypeInteger,
			Open:         true,
		}))

		job := newJob(t, db, catalog.JobTypeRetention)
		require.NoError(t, catalog.CreateRetentionArgs(ctx, db, &catalog.RetentionArgs{
			JobID:        job.ID,
			HypertableID: ht.ID,
			OlderThan:    catalog.Boundary{Interval: time.Hour},
		}))

		_, err = exec.Execute(ctx, job)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Reason, "timestamp dimension")
	})
}
