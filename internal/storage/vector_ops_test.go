package storage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

func TestSerializeVector_RoundTrip(t *testing.T) {
	vector := []float32{0, -1.5, 3.25, float32(math.Pi)}
	blob := SerializeVector(vector)
	assert.Len(t, blob, 16)
	assert.Equal(t, vector, DeserializeVector(blob))
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	// Zero vectors and mismatched dimensions have no similarity.
	assert.InDelta(t, 1, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float32{1}, []float32{1, 0}), 1e-9)
}

func TestSortCandidates(t *testing.T) {
	candidates := []candidate{
		{record: types.EmbeddingRecord{NodeID: "b"}, distance: 0.3},
		{record: types.EmbeddingRecord{NodeID: "c"}, distance: 0.1},
		{record: types.EmbeddingRecord{NodeID: "a"}, distance: 0.3},
	}
	sortCandidates(candidates)
	assert.Equal(t, "c", candidates[0].record.NodeID)
	assert.Equal(t, "a", candidates[1].record.NodeID)
	assert.Equal(t, "b", candidates[2].record.NodeID)
}

func TestBuildVectorResults_Limit(t *testing.T) {
	candidates := []candidate{{distance: 0.1}, {distance: 0.2}}
	assert.Len(t, buildVectorResults(candidates, 1), 1)
	assert.Len(t, buildVectorResults(candidates, 5), 2)
	assert.Empty(t, buildVectorResults(candidates, 0))
}

func TestSearchVector(t *testing.T) {
	storage := setupTestDB(t)
	seedRows(t, storage)
	ctx := context.Background()

	results, err := storage.SearchVector(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err, "build mode %s", BuildMode)

	// README has no vector and is never returned.
	require.Len(t, results, 4)
	assert.Equal(t, "func:auth/login.go:Login:1:1", results[0].Record.NodeID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Equal(t, "func:auth/login.go:check:5:1", results[1].Record.NodeID)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}

	maxDistance := 0.5
	results, err = storage.SearchVector(ctx, []float32{1, 0, 0}, 10, &SearchFilters{MaxDistance: &maxDistance})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = storage.SearchVector(ctx, []float32{1, 0, 0}, 10, &SearchFilters{
		NodeTypes: []types.NodeType{types.NodeFunction},
		FilePaths: []string{"db/"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "func:db/query.go:Query:1:1", results[0].Record.NodeID)

	results, err = storage.SearchVector(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = storage.SearchVector(ctx, nil, 10, nil)
	assert.Error(t, err)
}

func TestIsMissingVectorFunction(t *testing.T) {
	assert.True(t, isMissingVectorFunction(errors.New("SQL logic error: no such function: vec_distance_cosine (1)")))
	assert.False(t, isMissingVectorFunction(errors.New("no such table: embeddings")))
}

func TestSearchVector_PathsAgree(t *testing.T) {
	storage := setupTestDB(t)
	seedRows(t, storage)
	ctx := context.Background()
	query := []float32{0.6, 0.8, 0}

	fallback, err := searchVectorFallback(ctx, storage.db, query, 10, nil)
	require.NoError(t, err)
	got, err := storage.SearchVector(ctx, query, 10, nil)
	require.NoError(t, err)

	require.Len(t, got, len(fallback))
	for i := range got {
		assert.Equal(t, fallback[i].Record.NodeID, got[i].Record.NodeID)
		assert.InDelta(t, fallback[i].Distance, got[i].Distance, 1e-6)
	}
}

func TestVecDistanceCosineFunction(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("pure Go build computes distances outside SQL")
	}
	storage := setupTestDB(t)

	var distance float64
	err := storage.db.QueryRow("SELECT vec_distance_cosine(?, ?)",
		SerializeVector([]float32{1, 0}), SerializeVector([]float32{0, 1})).Scan(&distance)
	require.NoError(t, err)
	assert.InDelta(t, 1, distance, 1e-9)
}
