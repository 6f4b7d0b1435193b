package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Hypertable is a logical table physically divided into chunks along
// one or more dimensions.
type Hypertable struct {
	ID         int64
	SchemaName string
	TableName  string
}

func (h *Hypertable) QualifiedName() string {
	return h.SchemaName + "." + h.TableName
}

// Dimension partition types.
const (
	ColumnTypeTimestamp = "timestamp"
	ColumnTypeInteger   = "integer"
)

// Dimension is a partitioning axis of a hypertable. The open dimension
// is the unbounded, time-like axis used by recency-based policies.
type Dimension struct {
	ID           int64
	HypertableID int64
	ColumnName   string
	ColumnType   string
	Open         bool
}

// DimensionSlice is a contiguous range [RangeStart, RangeEnd) on a
// dimension, in the dimension's native units.
type DimensionSlice struct {
	ID          int64
	DimensionID int64
	RangeStart  int64
	RangeEnd    int64
}

func CreateHypertable(ctx context.Context, q DBTX, schemaName, tableName string) (*Hypertable, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO hypertables (schema_name, table_name) VALUES (?, ?)`,
		schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("create hypertable: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("hypertable id: %w", err)
	}
	return &Hypertable{ID: id, SchemaName: schemaName, TableName: tableName}, nil
}

// GetHypertable returns nil when no hypertable with the given id exists.
func GetHypertable(ctx context.Context, q DBTX, id int64) (*Hypertable, error) {
	var h Hypertable
	err := q.QueryRowContext(ctx,
		`SELECT id, schema_name, table_name FROM hypertables WHERE id = ?`,
		id).Scan(&h.ID, &h.SchemaName, &h.TableName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get hypertable: %w", err)
	}
	return &h, nil
}

func CreateDimension(ctx context.Context, q DBTX, d *Dimension) error {
	open := 0
	if d.Open {
		open = 1
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO dimensions (hypertable_id, column_name, column_type, open)
		 VALUES (?, ?, ?, ?)`,
		d.HypertableID, d.ColumnName, d.ColumnType, open)
	if err != nil {
		return fmt.Errorf("create dimension: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("dimension id: %w", err)
	}
	d.ID = id
	return nil
}

// OpenDimension returns the hypertable's open (time-like) dimension, or
// nil when the hypertable has none.
func OpenDimension(ctx context.Context, q DBTX, hypertableID int64) (*Dimension, error) {
	var d Dimension
	var open int
	err := q.QueryRowContext(ctx,
		`SELECT id, hypertable_id, column_name, column_type, open
		 FROM dimensions
		 WHERE hypertable_id = ? AND open = 1
		 ORDER BY id ASC
		 LIMIT 1`,
		hypertableID).Scan(&d.ID, &d.HypertableID, &d.ColumnName, &d.ColumnType, &open)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dimension: %w", err)
	}
	d.Open = open != 0
	return &d, nil
}

func CreateDimensionSlice(ctx context.Context, q DBTX, s *DimensionSlice) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO dimension_slices (dimension_id, range_start, range_end)
		 VALUES (?, ?, ?)`,
		s.DimensionID, s.RangeStart, s.RangeEnd)
	if err != nil {
		return fmt.Errorf("create dimension slice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("dimension slice id: %w", err)
	}
	s.ID = id
	return nil
}

// NthLatestSlice returns the n-th most recent slice on a dimension,
// ordered by range_start descending (n is 1-based). It returns nil when
// the dimension has fewer than n slices.
func NthLatestSlice(ctx context.Context, q DBTX, dimensionID int64, n int) (*DimensionSlice, error) {
	if n < 1 {
		return nil, fmt.Errorf("nth latest slice: n must be >= 1, got %d", n)
	}

	var s DimensionSlice
	err := q.QueryRowContext(ctx,
		`SELECT id, dimension_id, range_start, range_end
		 FROM dimension_slices
		 WHERE dimension_id = ?
		 ORDER BY range_start DESC
		 LIMIT 1 OFFSET ?`,
		dimensionID, n-1).Scan(&s.ID, &s.DimensionID, &s.RangeStart, &s.RangeEnd)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nth latest slice: %w", err)
	}
	return &s, nil
}
