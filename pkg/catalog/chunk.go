package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Chunk is one physical storage unit of a hypertable, corresponding to
// one combination of dimension slices.
type Chunk struct {
	ID           int64
	HypertableID int64
	SchemaName   string
	TableName    string
}

func (c *Chunk) QualifiedName() string {
	return c.SchemaName + "." + c.TableName
}

// ChunkIndex maps a hypertable index to its physical analogue on one chunk.
type ChunkIndex struct {
	ChunkID             int64
	IndexName           string
	IndexedColumn       string
	HypertableID        int64
	HypertableIndexName string
}

// CreateChunk inserts a chunk and its slice constraints.
func CreateChunk(ctx context.Context, q DBTX, c *Chunk, sliceIDs ...int64) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO chunks (hypertable_id, schema_name, table_name) VALUES (?, ?, ?)`,
		c.HypertableID, c.SchemaName, c.TableName)
	if err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("chunk id: %w", err)
	}
	c.ID = id

	for _, sliceID := range sliceIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO chunk_constraints (chunk_id, dimension_slice_id) VALUES (?, ?)`,
			c.ID, sliceID); err != nil {
			return fmt.Errorf("create chunk constraint: %w", err)
		}
	}
	return nil
}

// GetChunk returns nil when no chunk with the given id exists.
func GetChunk(ctx context.Context, q DBTX, id int64) (*Chunk, error) {
	var c Chunk
	err := q.QueryRowContext(ctx,
		`SELECT id, hypertable_id, schema_name, table_name FROM chunks WHERE id = ?`,
		id).Scan(&c.ID, &c.HypertableID, &c.SchemaName, &c.TableName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return &c, nil
}

// OldestChunkWithoutJobRun returns the oldest chunk (smallest slice
// range_start) on the dimension whose slice starts at or before
// maxRangeStart and that has no run-history fact for the job. Returns
// nil when every qualifying chunk has already been processed.
func OldestChunkWithoutJobRun(ctx context.Context, q DBTX, jobID, dimensionID, maxRangeStart int64) (*Chunk, error) {
	var c Chunk
	err := q.QueryRowContext(ctx,
		`SELECT c.id, c.hypertable_id, c.schema_name, c.table_name
		 FROM chunks c
		 JOIN chunk_constraints cc ON cc.chunk_id = c.id
		 JOIN dimension_slices ds ON ds.id = cc.dimension_slice_id
		 WHERE ds.dimension_id = ?
		   AND ds.range_start <= ?
		   AND NOT EXISTS (
		     SELECT 1 FROM chunk_job_history h
		     WHERE h.job_id = ? AND h.chunk_id = c.id
		   )
		 ORDER BY ds.range_start ASC
		 LIMIT 1`,
		dimensionID, maxRangeStart, jobID).Scan(&c.ID, &c.HypertableID, &c.SchemaName, &c.TableName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oldest chunk without job run: %w", err)
	}
	return &c, nil
}

// ChunksWithRangeEndBefore returns chunks whose slice on the dimension
// ends at or before the cutoff (boundary inclusive), oldest first.
func ChunksWithRangeEndBefore(ctx context.Context, q DBTX, dimensionID, cutoff int64) ([]Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT c.id, c.hypertable_id, c.schema_name, c.table_name
		 FROM chunks c
		 JOIN chunk_constraints cc ON cc.chunk_id = c.id
		 JOIN dimension_slices ds ON ds.id = cc.dimension_slice_id
		 WHERE ds.dimension_id = ? AND ds.range_end <= ?
		 ORDER BY ds.range_start ASC`,
		dimensionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("chunks with range_end before cutoff: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.HypertableID, &c.SchemaName, &c.TableName); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// DeleteChunk removes a chunk row, its slice constraints, and any
// dimension slices left without a referencing chunk.
func DeleteChunk(ctx context.Context, q DBTX, chunkID int64) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM chunk_constraints WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete chunk constraints: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM dimension_slices
		 WHERE id NOT IN (SELECT dimension_slice_id FROM chunk_constraints)`); err != nil {
		return fmt.Errorf("delete orphaned slices: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM chunks WHERE id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

func AddChunkIndex(ctx context.Context, q DBTX, idx *ChunkIndex) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO chunk_indexes
		 (chunk_id, index_name, indexed_column, hypertable_id, hypertable_index_name)
		 VALUES (?, ?, ?, ?, ?)`,
		idx.ChunkID, idx.IndexName, idx.IndexedColumn, idx.HypertableID, idx.HypertableIndexName)
	if err != nil {
		return fmt.Errorf("add chunk index: %w", err)
	}
	return nil
}

// FindChunkIndex translates a hypertable index name to the chunk's own
// index. Returns nil when the chunk carries no analogue of the index.
func FindChunkIndex(ctx context.Context, q DBTX, chunkID int64, hypertableIndexName string) (*ChunkIndex, error) {
	var idx ChunkIndex
	err := q.QueryRowContext(ctx,
		`SELECT chunk_id, index_name, indexed_column, hypertable_id, hypertable_index_name
		 FROM chunk_indexes
		 WHERE chunk_id = ? AND hypertable_index_name = ?`,
		chunkID, hypertableIndexName).Scan(
		&idx.ChunkID, &idx.IndexName, &idx.IndexedColumn, &idx.HypertableID, &idx.HypertableIndexName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find chunk index: %w", err)
	}
	return &idx, nil
}

func CountChunkIndexes(ctx context.Context, q DBTX, chunkID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_indexes WHERE chunk_id = ?`, chunkID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunk indexes: %w", err)
	}
	return n, nil
}

func DeleteChunkIndexes(ctx context.Context, q DBTX, chunkID int64) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM chunk_indexes WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete chunk indexes: %w", err)
	}
	return nil
}
