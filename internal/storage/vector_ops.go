package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// SearchVector implements RowStore.
func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	// Use SQL-side distance when the vector extension is compiled in
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, s.db, vector, limit, filters)
	}
	return searchVectorFallback(ctx, s.db, vector, limit, filters)
}

// searchVectorOptimized computes cosine distance in SQL with vec_distance_cosine.
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	blob := serializeVector(queryVector)

	query := `
		SELECT node_id, node_type, file_path, source_text,
			vec_distance_cosine(vector, ?) AS distance
		FROM embeddings
		WHERE vector IS NOT NULL AND dimension = ?
	`
	args := []interface{}{blob, len(queryVector)}
	query, args = applySearchFilters(query, args, filters)

	if filters != nil && filters.MaxDistance != nil {
		query += " AND vec_distance_cosine(vector, ?) <= ?"
		args = append(args, blob, *filters.MaxDistance)
	}

	query += " ORDER BY distance ASC, node_id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		if isMissingVectorFunction(err) {
			return nil, fmt.Errorf("%w: %v", ErrVectorSearchUnavailable, err)
		}
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		var typ string
		var filePath sql.NullString
		if err := rows.Scan(&r.Record.NodeID, &typ, &filePath, &r.Record.SourceText, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Record.NodeType = types.NodeType(typ)
		r.Record.FilePath = filePath.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		if isMissingVectorFunction(err) {
			return nil, fmt.Errorf("%w: %v", ErrVectorSearchUnavailable, err)
		}
		return nil, err
	}
	return results, nil
}

// searchVectorFallback computes cosine distance in Go over every embedded row.
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	query := `
		SELECT node_id, node_type, file_path, source_text, vector
		FROM embeddings
		WHERE vector IS NOT NULL
	`
	var args []interface{}
	query, args = applySearchFilters(query, args, filters)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeDistances(rows, queryVector, filters)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), nil
}

// SearchText implements RowStore.
func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]types.EmbeddingRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}

	sqlQuery := `
		SELECT node_id, node_type, file_path, source_text
		FROM embeddings
		WHERE instr(lower(source_text), lower(?)) > 0
	`
	args := []interface{}{query}
	sqlQuery, args = applySearchFilters(sqlQuery, args, filters)

	sqlQuery += " ORDER BY length(source_text) ASC, node_id ASC"
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// Helper functions

// applySearchFilters adds node type and file path conditions
func applySearchFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	query, args = applyNodeTypeFilter(query, args, filters.NodeTypes)

	if len(filters.FilePaths) > 0 {
		conds := make([]string, 0, len(filters.FilePaths))
		for _, p := range filters.FilePaths {
			conds = append(conds, "instr(COALESCE(file_path, ''), ?) > 0")
			args = append(args, p)
		}
		query += " AND (" + strings.Join(conds, " OR ") + ")"
	}

	return query, args
}

func applyNodeTypeFilter(query string, args []interface{}, nodeTypes []types.NodeType) (string, []interface{}) {
	if len(nodeTypes) == 0 {
		return query, args
	}
	query += " AND node_type IN (" + placeholders(len(nodeTypes)) + ")"
	for _, t := range nodeTypes {
		args = append(args, string(t))
	}
	return query, args
}

// computeDistances scans rows and keeps those within the distance bound
func computeDistances(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var c candidate
		var typ string
		var filePath sql.NullString
		var blob []byte
		if err := rows.Scan(&c.record.NodeID, &typ, &filePath, &c.record.SourceText, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		c.distance = 1 - cosineSimilarity(queryVector, vector)
		if filters != nil && filters.MaxDistance != nil && c.distance > *filters.MaxDistance {
			continue
		}

		c.record.NodeType = types.NodeType(typ)
		c.record.FilePath = filePath.String
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// buildVectorResults keeps the first limit candidates
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	if limit <= 0 {
		return []VectorResult{}
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{Record: candidates[i].record, Distance: candidates[i].distance}
	}
	return results
}

func isMissingVectorFunction(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such function") && strings.Contains(msg, "vec_distance_cosine")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is a row with its distance to the query
type candidate struct {
	record   types.EmbeddingRecord
	distance float64
}

// sortCandidates orders by ascending distance, ties by node id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].record.NodeID < candidates[j].record.NodeID
	})
}

// SerializeVector encodes a vector the way it is stored.
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector decodes a stored vector.
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineDistance returns 1 - cosine similarity of a and b.
func CosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}
