package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// UpsertEmbedding implements RowStore. A record without a vector is stored
// with a NULL vector.
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, record *types.EmbeddingRecord) error {
	if record == nil || record.NodeID == "" {
		return types.ErrMissingNodeID
	}

	var blob []byte
	var dim sql.NullInt64
	if record.HasEmbedding() {
		blob = serializeVector(record.Embedding)
		dim = sql.NullInt64{Int64: int64(len(record.Embedding)), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (node_id, node_type, file_path, source_text, vector, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			node_type = excluded.node_type,
			file_path = excluded.file_path,
			source_text = excluded.source_text,
			vector = excluded.vector,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`, record.NodeID, string(record.NodeType), nullString(record.FilePath), record.SourceText, blob, dim, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert embedding %s: %w", record.NodeID, err)
	}
	return nil
}

// GetEmbedding implements RowStore.
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, nodeID string) (*types.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, node_type, file_path, source_text, vector
		FROM embeddings WHERE node_id = ?
	`, nodeID)

	var rec types.EmbeddingRecord
	var typ string
	var filePath sql.NullString
	var blob []byte
	err := row.Scan(&rec.NodeID, &typ, &filePath, &rec.SourceText, &blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding %s: %w", nodeID, err)
	}
	rec.NodeType = types.NodeType(typ)
	rec.FilePath = filePath.String
	if len(blob) > 0 {
		rec.Embedding = deserializeVector(blob)
	}
	return &rec, nil
}

// DeleteEmbeddingsByFile implements RowStore.
func (s *SQLiteStorage) DeleteEmbeddingsByFile(ctx context.Context, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	args := make([]interface{}, len(filePaths))
	for i, p := range filePaths {
		args[i] = p
	}
	query := "DELETE FROM embeddings WHERE file_path IN (" + placeholders(len(filePaths)) + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// ClearEmbeddings implements RowStore.
func (s *SQLiteStorage) ClearEmbeddings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

// SearchMetadata implements RowStore. Matches are ordered by node id.
func (s *SQLiteStorage) SearchMetadata(ctx context.Context, filters *MetadataFilters, limit int) ([]types.EmbeddingRecord, error) {
	query := `SELECT node_id, node_type, file_path, source_text FROM embeddings WHERE 1=1`
	var args []interface{}

	if filters != nil {
		query, args = applyNodeTypeFilter(query, args, filters.NodeTypes)
		if filters.FilePath != "" {
			query += " AND instr(lower(COALESCE(file_path, '')), lower(?)) > 0"
			args = append(args, filters.FilePath)
		}
		if ext := strings.TrimPrefix(filters.Extension, "."); ext != "" {
			query += " AND lower(COALESCE(file_path, '')) LIKE ? ESCAPE '\\'"
			args = append(args, "%."+escapeLike(strings.ToLower(ext)))
		}
		if filters.TextContains != "" {
			query += " AND instr(lower(source_text), lower(?)) > 0"
			args = append(args, filters.TextContains)
		}
	}

	query += " ORDER BY node_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute metadata search: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// GetStats implements RowStore.
func (s *SQLiteStorage) GetStats(ctx context.Context, topFiles int) (*types.EmbeddingStats, error) {
	stats := &types.EmbeddingStats{
		ByNodeType: make(map[string]int),
		TopFiles:   []types.FileCount{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN vector IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM embeddings
	`).Scan(&stats.TotalRecords, &stats.EmbeddedRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	if stats.TotalRecords > 0 {
		stats.Coverage = float64(stats.EmbeddedRecords) / float64(stats.TotalRecords)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT node_type, COUNT(*) FROM embeddings GROUP BY node_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count by node type: %w", err)
	}
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByNodeType[typ] = count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if topFiles <= 0 {
		return stats, nil
	}
	rows, err = s.db.QueryContext(ctx, `
		SELECT file_path, COUNT(*) AS n FROM embeddings
		WHERE file_path IS NOT NULL
		GROUP BY file_path
		ORDER BY n DESC, file_path ASC
		LIMIT ?
	`, topFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to count by file: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var fc types.FileCount
		if err := rows.Scan(&fc.FilePath, &fc.Count); err != nil {
			return nil, err
		}
		stats.TopFiles = append(stats.TopFiles, fc)
	}
	return stats, rows.Err()
}

// scanRecords reads node_id, node_type, file_path, source_text rows.
func scanRecords(rows *sql.Rows) ([]types.EmbeddingRecord, error) {
	records := make([]types.EmbeddingRecord, 0)
	for rows.Next() {
		var rec types.EmbeddingRecord
		var typ string
		var filePath sql.NullString
		if err := rows.Scan(&rec.NodeID, &typ, &filePath, &rec.SourceText); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.NodeType = types.NodeType(typ)
		rec.FilePath = filePath.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE wildcards so s matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
