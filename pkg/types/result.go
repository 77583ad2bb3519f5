package types

// SearchResult is a single ranked search hit
type SearchResult struct {
	NodeID     string
	NodeType   NodeType
	FilePath   string
	SourceText string

	// Scoring
	Distance   float64 // Cosine distance, 0 for non-vector matches
	Similarity float64 // 1 - Distance
	Rank       int     // Position in result set (1-based)
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.NodeID == "" {
		return ErrMissingNodeID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Similarity < -1 || sr.Similarity > 1 {
		return ErrInvalidSimilarity
	}

	return nil
}
