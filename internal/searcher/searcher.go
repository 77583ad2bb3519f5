package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	// MetadataSimilarity is the score given to every attribute match so that
	// metadata hits merge with vector hits on one scale.
	MetadataSimilarity = 0.95

	// SemanticSharePercent is the part of a hybrid limit given to semantic search.
	SemanticSharePercent = 70

	defaultCacheTTL = time.Hour
)

var (
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrNodeNotFound = errors.New("node not found")
	ErrNoEmbedding  = errors.New("node has no embedding")
)

// SearchMode records which path produced a response
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeText     SearchMode = "text" // substring fallback when vectors are unavailable
	SearchModeMetadata SearchMode = "metadata"
	SearchModeHybrid   SearchMode = "hybrid"
	SearchModeSimilar  SearchMode = "similar"
)

// SearchOptions controls semantic and similarity search
type SearchOptions struct {
	Limit         int
	NodeTypes     []types.NodeType
	FilePaths     []string // substring allow-list
	MinSimilarity float64  // 0 disables the threshold
	UseCache      bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results         []types.SearchResult
	TotalResults    int
	Mode            SearchMode
	Duration        time.Duration
	CacheHit        bool
	SemanticResults int
	MetadataResults int
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs semantic, metadata and hybrid search over embedding rows
type Searcher struct {
	store    storage.RowStore
	embedder embedder.Embedder
	logger   *slog.Logger
	cacheTTL time.Duration
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.RowStore, emb embedder.Embedder, logger *slog.Logger) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](1000)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		logger:   logger,
		cacheTTL: defaultCacheTTL,
		cache:    cache,
	}
}

// SemanticSearch embeds query and returns the nearest rows by cosine
// distance. When the store cannot compute distances it degrades to a
// substring search ranked by ascending text length, as it does when no
// embedder is configured. Those results carry similarity 0 and ignore
// MinSimilarity.
func (s *Searcher) SemanticSearch(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	opts.Limit = normalizeLimit(opts.Limit)

	key := computeQueryHash(SearchModeSemantic, query, opts, nil)
	if opts.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	resp, err := s.semantic(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Since(start)

	if opts.UseCache && len(resp.Results) > 0 {
		s.storeInCache(key, resp)
	}
	return resp, nil
}

func (s *Searcher) semantic(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	if s.embedder == nil {
		return s.textFallback(ctx, query, opts)
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query, IsQuery: true})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	filters := vectorFilters(opts)
	vrs, err := s.store.SearchVector(ctx, emb.Vector, opts.Limit, filters)
	if errors.Is(err, storage.ErrVectorSearchUnavailable) {
		s.logger.Warn("search.vector.unavailable", "fallback", "text")
		return s.textFallback(ctx, query, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := fromVectorResults(vrs)
	return &SearchResponse{
		Results:         results,
		TotalResults:    len(results),
		Mode:            SearchModeSemantic,
		SemanticResults: len(results),
	}, nil
}

func (s *Searcher) textFallback(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	filters := &storage.SearchFilters{NodeTypes: opts.NodeTypes, FilePaths: opts.FilePaths}
	records, err := s.store.SearchText(ctx, query, opts.Limit, filters)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	results := make([]types.SearchResult, len(records))
	for i, r := range records {
		results[i] = newResult(r, 1, i+1)
	}
	return &SearchResponse{
		Results:         results,
		TotalResults:    len(results),
		Mode:            SearchModeText,
		SemanticResults: len(results),
	}, nil
}

// MetadataSearch filters rows by attributes only. Every match scores
// MetadataSimilarity.
func (s *Searcher) MetadataSearch(ctx context.Context, filters *storage.MetadataFilters, limit int) (*SearchResponse, error) {
	start := time.Now()
	limit = normalizeLimit(limit)

	records, err := s.store.SearchMetadata(ctx, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("metadata search: %w", err)
	}

	results := make([]types.SearchResult, len(records))
	for i, r := range records {
		results[i] = newResult(r, 1-MetadataSimilarity, i+1)
	}
	return &SearchResponse{
		Results:         results,
		TotalResults:    len(results),
		Mode:            SearchModeMetadata,
		Duration:        time.Since(start),
		MetadataResults: len(results),
	}, nil
}

// HybridSearch splits the limit between semantic search (ceil(70%)) and
// metadata search (the rest, at least one), runs both concurrently, merges
// duplicates keeping the higher similarity and re-ranks. It fails only when
// both branches fail. A nil filter, or one without TextContains, matches
// the query text as a substring.
func (s *Searcher) HybridSearch(ctx context.Context, query string, filters *storage.MetadataFilters, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	opts.Limit = normalizeLimit(opts.Limit)

	meta := storage.MetadataFilters{}
	if filters != nil {
		meta = *filters
	}
	if meta.TextContains == "" {
		meta.TextContains = query
	}

	key := computeQueryHash(SearchModeHybrid, query, opts, &meta)
	if opts.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	semanticLimit, metadataLimit := splitLimit(opts.Limit)
	semOpts := opts
	semOpts.Limit = semanticLimit

	var semResp, metaResp *SearchResponse
	var semErr, metaErr error
	var g errgroup.Group
	g.Go(func() error {
		semResp, semErr = s.semantic(ctx, query, semOpts)
		return nil
	})
	g.Go(func() error {
		metaResp, metaErr = s.MetadataSearch(ctx, &meta, metadataLimit)
		return nil
	})
	_ = g.Wait()

	if semErr != nil && metaErr != nil {
		return nil, fmt.Errorf("both searches failed: semantic=%w, metadata=%v", semErr, metaErr)
	}
	if semErr != nil {
		s.logger.Warn("search.hybrid.semantic_failed", "err", semErr)
		semResp = &SearchResponse{}
	}
	if metaErr != nil {
		s.logger.Warn("search.hybrid.metadata_failed", "err", metaErr)
		metaResp = &SearchResponse{}
	}

	merged := mergeResults(opts.Limit, semResp.Results, metaResp.Results)
	resp := &SearchResponse{
		Results:         merged,
		TotalResults:    len(merged),
		Mode:            SearchModeHybrid,
		Duration:        time.Since(start),
		SemanticResults: len(semResp.Results),
		MetadataResults: len(metaResp.Results),
	}

	if opts.UseCache && len(merged) > 0 {
		s.storeInCache(key, resp)
	}
	return resp, nil
}

// FindSimilarNodes returns the rows nearest to the stored vector of nodeID,
// excluding nodeID itself.
func (s *Searcher) FindSimilarNodes(ctx context.Context, nodeID string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	opts.Limit = normalizeLimit(opts.Limit)

	rec, err := s.store.GetEmbedding(ctx, nodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if err != nil {
		return nil, err
	}
	if !rec.HasEmbedding() {
		return nil, fmt.Errorf("%w: %s", ErrNoEmbedding, nodeID)
	}

	vrs, err := s.store.SearchVector(ctx, rec.Embedding, opts.Limit+1, vectorFilters(opts))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	filtered := make([]storage.VectorResult, 0, len(vrs))
	for _, vr := range vrs {
		if vr.Record.NodeID == nodeID {
			continue
		}
		filtered = append(filtered, vr)
	}
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	results := fromVectorResults(filtered)
	return &SearchResponse{
		Results:         results,
		TotalResults:    len(results),
		Mode:            SearchModeSimilar,
		Duration:        time.Since(start),
		SemanticResults: len(results),
	}, nil
}

// GetStats reports row counts, embedding coverage and the busiest files.
func (s *Searcher) GetStats(ctx context.Context, topFiles int) (*types.EmbeddingStats, error) {
	if topFiles <= 0 {
		topFiles = 10
	}
	return s.store.GetStats(ctx, topFiles)
}

// InvalidateCache drops every cached response. Call it after re-indexing.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

func vectorFilters(opts SearchOptions) *storage.SearchFilters {
	f := &storage.SearchFilters{NodeTypes: opts.NodeTypes, FilePaths: opts.FilePaths}
	if opts.MinSimilarity > 0 {
		maxDistance := 1 - opts.MinSimilarity
		f.MaxDistance = &maxDistance
	}
	return f
}

func fromVectorResults(vrs []storage.VectorResult) []types.SearchResult {
	results := make([]types.SearchResult, len(vrs))
	for i, vr := range vrs {
		results[i] = newResult(vr.Record, vr.Distance, i+1)
	}
	return results
}

func newResult(r types.EmbeddingRecord, distance float64, rank int) types.SearchResult {
	return types.SearchResult{
		NodeID:     r.NodeID,
		NodeType:   r.NodeType,
		FilePath:   r.FilePath,
		SourceText: r.SourceText,
		Distance:   distance,
		Similarity: 1 - distance,
		Rank:       rank,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// splitLimit divides a hybrid limit between the semantic and metadata branches.
func splitLimit(limit int) (semantic, metadata int) {
	semantic = (limit*SemanticSharePercent + 99) / 100
	metadata = max(limit-semantic, 1)
	return semantic, metadata
}

// mergeResults dedupes by node id keeping the higher similarity, orders by
// similarity descending and assigns ranks 1..n.
func mergeResults(limit int, sets ...[]types.SearchResult) []types.SearchResult {
	best := make(map[string]types.SearchResult)
	for _, set := range sets {
		for _, r := range set {
			if prev, ok := best[r.NodeID]; !ok || r.Similarity > prev.Similarity {
				best[r.NodeID] = r
			}
		}
	}

	merged := make([]types.SearchResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		return merged[i].NodeID < merged[j].NodeID
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(key [32]byte, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(mode SearchMode, query string, opts SearchOptions, meta *storage.MetadataFilters) [32]byte {
	var data strings.Builder
	data.WriteString(string(mode))
	data.WriteString("|")
	data.WriteString(query)
	fmt.Fprintf(&data, "|%d|%.4f|", opts.Limit, opts.MinSimilarity)
	for _, t := range opts.NodeTypes {
		data.WriteString(string(t))
		data.WriteString(",")
	}
	data.WriteString("|")
	data.WriteString(strings.Join(opts.FilePaths, ","))

	if meta != nil {
		data.WriteString("|meta:")
		for _, t := range meta.NodeTypes {
			data.WriteString(string(t))
			data.WriteString(",")
		}
		data.WriteString("|")
		data.WriteString(meta.FilePath)
		data.WriteString("|")
		data.WriteString(meta.Extension)
		data.WriteString("|")
		data.WriteString(meta.TextContains)
	}

	return sha256.Sum256([]byte(data.String()))
}
