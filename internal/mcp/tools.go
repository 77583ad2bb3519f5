package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegraph-mcp/internal/graph"
	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNodeNotFound       = -32001 // Node id is not in the index
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Project not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeExplainUnavailable = -32005 // No explanation model configured
)

const snippetLength = 400

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	forceFull := getBoolDefault(args, "force_full", false)

	stats, err := s.indexer.IndexProject(ctx, forceFull)
	if errors.Is(err, indexer.ErrIndexInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.searcher.InvalidateCache()
	if err := s.graph.Load(ctx); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load graph", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":          true,
		"incremental":      stats.Incremental,
		"commit":           stats.CommitHash,
		"files_indexed":    stats.FilesIndexed,
		"files_deleted":    stats.FilesDeleted,
		"nodes_written":    stats.NodesWritten,
		"edges_written":    stats.EdgesWritten,
		"commits_indexed":  stats.CommitsIndexed,
		"records_embedded": stats.RecordsEmbedded,
		"records_failed":   stats.RecordsFailed,
		"duration_ms":      stats.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	mode := getStringDefault(args, "mode", "hybrid")
	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" && mode != "metadata" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit, err := getLimit(args)
	if err != nil {
		return nil, err
	}
	minSimilarity, err := getMinSimilarity(args)
	if err != nil {
		return nil, err
	}
	nodeTypes, err := getNodeTypes(args)
	if err != nil {
		return nil, err
	}

	filePath := getStringDefault(args, "file_path", "")
	opts := searcher.SearchOptions{
		Limit:         limit,
		NodeTypes:     nodeTypes,
		MinSimilarity: minSimilarity,
		UseCache:      true,
	}
	if filePath != "" {
		opts.FilePaths = []string{filePath}
	}
	meta := &storage.MetadataFilters{
		NodeTypes:    nodeTypes,
		FilePath:     filePath,
		Extension:    getStringDefault(args, "extension", ""),
		TextContains: getStringDefault(args, "text_contains", ""),
	}

	var resp *searcher.SearchResponse
	switch mode {
	case "semantic":
		resp, err = s.searcher.SemanticSearch(ctx, query, opts)
	case "metadata":
		resp, err = s.searcher.MetadataSearch(ctx, meta, limit)
	case "hybrid":
		resp, err = s.searcher.HybridSearch(ctx, query, meta, opts)
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"semantic", "metadata", "hybrid"},
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(formatSearchResponse(resp))), nil
}

// handleFindSimilar handles the find_similar tool invocation
func (s *Server) handleFindSimilar(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(args, "node_id")
	if err != nil {
		return nil, err
	}
	limit, err := getLimit(args)
	if err != nil {
		return nil, err
	}
	minSimilarity, err := getMinSimilarity(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.FindSimilarNodes(ctx, nodeID, searcher.SearchOptions{
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
	switch {
	case errors.Is(err, searcher.ErrNodeNotFound), errors.Is(err, searcher.ErrNoEmbedding):
		return nil, newMCPError(ErrorCodeNodeNotFound, err.Error(), map[string]interface{}{
			"node_id": nodeID,
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "similarity search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(formatSearchResponse(resp))), nil
}

// handleGetCallers handles the get_callers tool invocation
func (s *Server) handleGetCallers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleCallNeighbors(ctx, request, "callers", s.graph.Callers)
}

// handleGetCallees handles the get_callees tool invocation
func (s *Server) handleGetCallees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleCallNeighbors(ctx, request, "callees", s.graph.Callees)
}

func (s *Server) handleCallNeighbors(ctx context.Context, request mcp.CallToolRequest, key string,
	query func(string) ([]*types.FunctionNode, error)) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(args, "node_id")
	if err != nil {
		return nil, err
	}
	if err := s.ensureGraph(ctx); err != nil {
		return nil, err
	}
	if err := s.requireNode(nodeID); err != nil {
		return nil, err
	}

	fns, err := query(nodeID)
	if err != nil {
		return nil, graphError(err)
	}
	response := map[string]interface{}{
		"node_id": nodeID,
		key:       formatFunctions(fns),
		"count":   len(fns),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleFindCallChain handles the find_call_chain tool invocation
func (s *Server) handleFindCallChain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	from, err := requireString(args, "from")
	if err != nil {
		return nil, err
	}
	to, err := requireString(args, "to")
	if err != nil {
		return nil, err
	}
	maxDepth := getIntDefault(args, "max_depth", graph.DefaultMaxDepth)
	if maxDepth < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_depth must be at least 1", map[string]interface{}{
			"param": "max_depth",
			"value": maxDepth,
		})
	}
	if err := s.ensureGraph(ctx); err != nil {
		return nil, err
	}

	chain, err := s.graph.FindCallChain(from, to, maxDepth)
	if err != nil {
		return nil, graphError(err)
	}
	response := map[string]interface{}{
		"from":  from,
		"to":    to,
		"found": chain != nil,
		"chain": chain,
	}
	if chain != nil {
		response["calls"] = len(chain) - 1
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleFileFunctions handles the get_file_functions tool invocation
func (s *Server) handleFileFunctions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}
	if err := s.ensureGraph(ctx); err != nil {
		return nil, err
	}

	fns, err := s.graph.FunctionsInFile(file)
	if err != nil {
		return nil, graphError(err)
	}
	response := map[string]interface{}{
		"file":      file,
		"functions": formatFunctions(fns),
		"count":     len(fns),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetDependents handles the get_dependents tool invocation
func (s *Server) handleGetDependents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}
	if err := s.ensureGraph(ctx); err != nil {
		return nil, err
	}

	files, err := s.graph.Dependents(file)
	if err != nil {
		return nil, graphError(err)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	response := map[string]interface{}{
		"file":       file,
		"dependents": paths,
		"count":      len(paths),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	last, err := s.storage.GetLastIndexedCommit(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index state", map[string]interface{}{
			"error": err.Error(),
		})
	}
	embStats, err := s.searcher.GetStats(ctx, 10)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"root":                s.indexer.Root(),
		"last_indexed_commit": last,
		"embeddings":          embStats,
	}

	graphNodes := 0
	if err := s.ensureGraph(ctx); err == nil {
		if graphStats, err := s.graph.Stats(); err == nil {
			response["graph"] = graphStats
			graphNodes = graphStats.Nodes
		}
	}
	response["indexed"] = embStats.TotalRecords > 0 || graphNodes > 0
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleExplainCode handles the explain_code tool invocation. It runs a
// hybrid search for the query and hands the results to the explainer.
func (s *Server) handleExplainCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.explainer == nil {
		return nil, newMCPError(ErrorCodeExplainUnavailable, "explanation is not configured, set explain.command", nil)
	}
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	limit := s.explainer.MaxResults()
	if _, ok := args["limit"]; ok {
		requested, err := getLimit(args)
		if err != nil {
			return nil, err
		}
		limit = min(limit, requested)
	}
	nodeTypes, err := getNodeTypes(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.HybridSearch(ctx, query, &storage.MetadataFilters{NodeTypes: nodeTypes}, searcher.SearchOptions{
		Limit:     limit,
		NodeTypes: nodeTypes,
		UseCache:  true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if len(resp.Results) == 0 {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"query":     query,
			"explained": false,
			"reason":    "no matching code, run index_codebase or rephrase the query",
		})), nil
	}

	exp, err := s.explainer.Explain(ctx, query, resp.Results)
	if err != nil {
		s.logger.Warn("explain.fail", "query", query, "error", err)
		return nil, newMCPError(ErrorCodeInternalError, "explanation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sources := make([]map[string]interface{}, 0, len(exp.Sources))
	for _, r := range resp.Results[:len(exp.Sources)] {
		sources = append(sources, map[string]interface{}{
			"node_id":    r.NodeID,
			"file_path":  r.FilePath,
			"similarity": r.Similarity,
		})
	}
	response := map[string]interface{}{
		"query":       query,
		"explained":   true,
		"explanation": exp.Text,
		"model":       exp.Model,
		"device":      exp.Device,
		"sources":     sources,
		"duration_ms": exp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// ensureGraph loads the graph snapshot on first use.
func (s *Server) ensureGraph(ctx context.Context) error {
	if s.graph.Loaded() {
		return nil
	}
	if err := s.graph.Load(ctx); err != nil {
		return newMCPError(ErrorCodeNotIndexed, "graph is not available, run index_codebase first", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

func (s *Server) requireNode(id string) error {
	n, err := s.graph.Node(id)
	if err != nil {
		return graphError(err)
	}
	if n == nil {
		return newMCPError(ErrorCodeNodeNotFound, "node not found", map[string]interface{}{
			"node_id": id,
		})
	}
	return nil
}

func graphError(err error) error {
	if errors.Is(err, graph.ErrGraphNotLoaded) {
		return newMCPError(ErrorCodeNotIndexed, "graph is not loaded, run index_codebase first", nil)
	}
	return newMCPError(ErrorCodeInternalError, "graph query failed", map[string]interface{}{
		"error": err.Error(),
	})
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func formatSearchResponse(resp *searcher.SearchResponse) map[string]interface{} {
	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":       r.Rank,
			"node_id":    r.NodeID,
			"node_type":  r.NodeType,
			"file_path":  r.FilePath,
			"similarity": r.Similarity,
			"snippet":    snippet(r.SourceText),
		}
	}
	return map[string]interface{}{
		"mode":        resp.Mode,
		"total":       resp.TotalResults,
		"results":     results,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
}

func formatFunctions(fns []*types.FunctionNode) []map[string]interface{} {
	out := make([]map[string]interface{}, len(fns))
	for i, fn := range fns {
		out[i] = map[string]interface{}{
			"id":         fn.ID,
			"name":       fn.Name,
			"file_path":  fn.FilePath,
			"signature":  fn.Signature,
			"start_line": fn.StartLine,
		}
	}
	return out
}

func snippet(text string) string {
	if len(text) <= snippetLength {
		return text
	}
	return text[:snippetLength] + "..."
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// arguments returns the tool call arguments. A call without arguments
// yields an empty map.
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

func getLimit(args map[string]interface{}) (int, error) {
	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return 0, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	return limit, nil
}

func getMinSimilarity(args map[string]interface{}) (float64, error) {
	v, ok := args["min_similarity"].(float64)
	if !ok {
		return 0, nil
	}
	if v < 0 || v > 1 {
		return 0, newMCPError(ErrorCodeInvalidParams, "min_similarity must be between 0 and 1", map[string]interface{}{
			"param": "min_similarity",
			"value": v,
		})
	}
	return v, nil
}

func getNodeTypes(args map[string]interface{}) ([]types.NodeType, error) {
	raw, ok := args["node_types"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]types.NodeType, 0, len(raw))
	for _, item := range raw {
		name, _ := item.(string)
		t := types.NodeType(name)
		if !t.Valid() {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid node type", map[string]interface{}{
				"param":   "node_types",
				"value":   item,
				"allowed": nodeTypeEnum,
			})
		}
		out = append(out, t)
	}
	return out, nil
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
