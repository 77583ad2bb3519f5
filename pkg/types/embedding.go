package types

// EmbeddingRecord is a searchable row derived from a graph node. A nil
// Embedding means the node has not been embedded yet.
type EmbeddingRecord struct {
	NodeID     string
	NodeType   NodeType
	FilePath   string
	SourceText string
	Embedding  []float32
}

// HasEmbedding reports whether a vector is present.
func (r *EmbeddingRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// EmbeddingStats summarizes the stored embedding rows.
type EmbeddingStats struct {
	TotalRecords    int            `json:"total_records"`
	EmbeddedRecords int            `json:"embedded_records"`
	Coverage        float64        `json:"coverage"`
	ByNodeType      map[string]int `json:"by_node_type"`
	TopFiles        []FileCount    `json:"top_files"`
}

// FileCount is a file path with its number of rows.
type FileCount struct {
	FilePath string `json:"file_path"`
	Count    int    `json:"count"`
}
