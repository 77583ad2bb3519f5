// Package searcher finds code by meaning and by attributes.
//
// Search runs over the embedding rows built at index time, one per function,
// type, test and commit node.
//
// # Modes
//
// SemanticSearch embeds the query through the worker and ranks rows by
// cosine distance. If the database cannot compute distances the call falls
// back to a case-insensitive substring search ordered by ascending text
// length. That is not an error; the response Mode is SearchModeText.
//
//	resp, err := s.SemanticSearch(ctx, "parse the config file", searcher.SearchOptions{
//	    Limit:         10,
//	    NodeTypes:     []types.NodeType{types.NodeFunction},
//	    MinSimilarity: 0.3,
//	})
//
// MetadataSearch filters by node type, file path, extension and text. Every
// match scores MetadataSimilarity (0.95) so it can be merged with vector hits.
//
// HybridSearch gives ceil(70%) of the limit to semantic search and the rest
// to metadata search, runs them concurrently, and keeps the higher score for
// nodes found by both.
//
// FindSimilarNodes reuses the stored vector of an indexed node as the query.
//
// # Caching
//
// With SearchOptions.UseCache set, semantic and hybrid responses are kept in
// an LRU cache for an hour. InvalidateCache clears it after re-indexing.
package searcher
