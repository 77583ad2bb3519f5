package storage

import (
	"context"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// GraphStore persists the extracted node and edge set.
type GraphStore interface {
	// ReplaceGraph discards the stored graph and writes g in its place.
	ReplaceGraph(ctx context.Context, g *types.Graph) error
	// MergeGraph removes every node belonging to filePaths, together with
	// the edges touching them, and then writes g.
	MergeGraph(ctx context.Context, g *types.Graph, filePaths []string) error
	LoadNodes(ctx context.Context) ([]types.Node, error)
	LoadEdges(ctx context.Context) ([]types.Edge, error)
}

// RowStore persists embedding records and answers distance queries over them.
type RowStore interface {
	UpsertEmbedding(ctx context.Context, record *types.EmbeddingRecord) error
	GetEmbedding(ctx context.Context, nodeID string) (*types.EmbeddingRecord, error)
	DeleteEmbeddingsByFile(ctx context.Context, filePaths []string) error
	ClearEmbeddings(ctx context.Context) error

	// SearchVector orders rows with a vector by ascending cosine distance to
	// vector. It returns ErrVectorSearchUnavailable when the database cannot
	// compute distances.
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	// SearchText matches query as a case-insensitive substring of the source
	// text and orders matches by ascending text length.
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]types.EmbeddingRecord, error)
	SearchMetadata(ctx context.Context, filters *MetadataFilters, limit int) ([]types.EmbeddingRecord, error)
	GetStats(ctx context.Context, topFiles int) (*types.EmbeddingStats, error)
}

// CommitHashStore holds the revision of the last successful index run.
type CommitHashStore interface {
	// GetLastIndexedCommit returns "" when no run has completed.
	GetLastIndexedCommit(ctx context.Context) (string, error)
	SetLastIndexedCommit(ctx context.Context, hash string) error
}

// Storage is the complete persistence surface.
type Storage interface {
	GraphStore
	RowStore
	CommitHashStore
	Close() error
}

// SearchFilters narrows vector and text search
type SearchFilters struct {
	NodeTypes   []types.NodeType // allow-list, empty means all
	FilePaths   []string         // substring allow-list on the file path
	MaxDistance *float64         // rows farther than this are dropped
}

// MetadataFilters narrows attribute-only search. All set fields must match.
type MetadataFilters struct {
	NodeTypes    []types.NodeType
	FilePath     string // substring of the file path
	Extension    string // file extension, with or without the dot
	TextContains string // substring of the source text
}

// VectorResult is a row with its cosine distance to the query vector.
type VectorResult struct {
	Record   types.EmbeddingRecord
	Distance float64
}
