package policy

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

// stubLicense is a fixed-answer entitlement gate that counts warning checks.
type stubLicense struct {
	entitled bool
	warns    int
}

func (s *stubLicense) Entitled() bool               { return s.entitled }
func (s *stubLicense) WarnIfExpiring(_ *zap.Logger) { s.warns++ }

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := catalog.Open(ctx, catalog.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.Migrate(ctx, db))
	return db
}

// newHypertable creates a hypertable with one open timestamp dimension.
func newHypertable(t *testing.T, db *sql.DB, name string) (*catalog.Hypertable, *catalog.Dimension) {
	t.Helper()
	ctx := context.Background()

	ht, err := catalog.CreateHypertable(ctx, db, "public", name)
	require.NoError(t, err)

	dim := &catalog.Dimension{
		HypertableID: ht.ID,
		ColumnName:   "ts",
		ColumnType:   catalog.ColumnTypeTimestamp,
		Open:         true,
	}
	require.NoError(t, catalog.CreateDimension(ctx, db, dim))
	return ht, dim
}

// newChunk creates a slice [start, end) and a chunk constrained to it.
func newChunk(t *testing.T, db *sql.DB, ht *catalog.Hypertable, dim *catalog.Dimension, name string, start, end int64) *catalog.Chunk {
	t.Helper()
	ctx := context.Background()

	slice := &catalog.DimensionSlice{DimensionID: dim.ID, RangeStart: start, RangeEnd: end}
	require.NoError(t, catalog.CreateDimensionSlice(ctx, db, slice))

	chunk := &catalog.Chunk{HypertableID: ht.ID, SchemaName: "_chunks", TableName: name}
	require.NoError(t, catalog.CreateChunk(ctx, db, chunk, slice.ID))
	return chunk
}

func newJob(t *testing.T, db *sql.DB, jt catalog.JobType) *catalog.Job {
	t.Helper()
	job := &catalog.Job{
		Type:             jt,
		ScheduleInterval: 24 * time.Hour,
		MaxRetries:       -1,
		NextStart:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, catalog.CreateJob(context.Background(), db, job))
	return job
}

func TestExecuteUnknownJobType(t *testing.T) {
	db := newTestDB(t)
	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{})

	job := &catalog.Job{ID: 1, Type: "vacuum"}
	_, err := exec.Execute(context.Background(), job)

	var unknown *UnknownJobTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, catalog.JobType("vacuum"), unknown.Type)
}

func TestExecuteEntitlementGate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	t.Run("reorder requires an entitled license", func(t *testing.T) {
		lic := &stubLicense{entitled: false}
		exec := NewExecutor(db, zap.NewNop(), lic, Ops{})
		job := newJob(t, db, catalog.JobTypeReorder)

		_, err := exec.Execute(ctx, job)
		var entitlement *EntitlementError
		require.ErrorAs(t, err, &entitlement)
		assert.Equal(t, 1, lic.warns, "expiry is checked before the entitlement decision")
	})

	t.Run("retention requires an entitled license", func(t *testing.T) {
		exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: false}, Ops{})
		job := newJob(t, db, catalog.JobTypeRetention)

		_, err := exec.Execute(ctx, job)
		var entitlement *EntitlementError
		require.ErrorAs(t, err, &entitlement)
	})

	t.Run("materialize runs without entitlement", func(t *testing.T) {
		job := newJob(t, db, catalog.JobTypeMaterialize)
		ht, _ := newHypertable(t, db, "entitlement_free")
		require.NoError(t, catalog.CreateContinuousAggregate(ctx, db, &catalog.ContinuousAggregate{
			JobID:        job.ID,
			HypertableID: ht.ID,
		}))

		materialize := func(ctx context.Context, id int64, verbose bool) (bool, error) {
			return true, nil
		}
		exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: false}, Ops{Materialize: materialize})

		ok, err := exec.Execute(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestExecuteDispatchErrorIsNotMaskedByCommit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	exec := NewExecutor(db, zap.NewNop(), &stubLicense{entitled: true}, Ops{})
	job := newJob(t, db, catalog.JobTypeReorder)

	// No reorder args configured: the configuration error from inside
	// the transaction scope must surface unchanged.
	_, err := exec.Execute(ctx, job)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "reorder", cfgErr.Policy)
	assert.False(t, errors.Is(err, sql.ErrTxDone))
}
