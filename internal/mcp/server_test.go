package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/graph"
	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/logging"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

var (
	fooID = types.FunctionID("a.go", "foo", 3, 1)
	barID = types.FunctionID("b.go", "bar", 3, 1)
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"a.go": "package p\n\nfunc foo() {\n\tbar()\n}\n",
		"b.go": "package p\n\nfunc bar() {}\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.Discard()
	s, err := NewServer(Deps{
		Store:    store,
		Indexer:  indexer.New(root, store, indexer.WithLogger(logger)),
		Searcher: searcher.NewSearcher(store, nil, logger),
		Graph:    graph.NewEngine(store, logger),
		Logger:   logger,
		Version:  "test",
	})
	require.NoError(t, err)
	return s
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	return mcpErr.Code
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestIndexThenQuery(t *testing.T) {
	s := newTestServer(t)

	out, err := call(t, s.handleIndexCodebase, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, float64(2), out["files_indexed"])

	out, err = call(t, s.handleGetCallers, map[string]interface{}{"node_id": barID})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["count"])
	callers := out["callers"].([]interface{})
	assert.Equal(t, fooID, callers[0].(map[string]interface{})["id"])

	out, err = call(t, s.handleGetCallees, map[string]interface{}{"node_id": fooID})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["count"])

	out, err = call(t, s.handleFindCallChain, map[string]interface{}{"from": fooID, "to": barID})
	require.NoError(t, err)
	assert.Equal(t, true, out["found"])
	assert.Equal(t, []interface{}{fooID, barID}, out["chain"])

	out, err = call(t, s.handleFindCallChain, map[string]interface{}{"from": barID, "to": fooID})
	require.NoError(t, err)
	assert.Equal(t, false, out["found"])

	out, err = call(t, s.handleFileFunctions, map[string]interface{}{"file": "a.go"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["count"])

	out, err = call(t, s.handleGetStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["indexed"])
	assert.NotNil(t, out["graph"])
}

func TestSearchCode(t *testing.T) {
	s := newTestServer(t)
	_, err := call(t, s.handleIndexCodebase, map[string]interface{}{"force_full": true})
	require.NoError(t, err)

	out, err := call(t, s.handleSearchCode, map[string]interface{}{
		"query": "bar",
		"mode":  "hybrid",
	})
	require.NoError(t, err)
	assert.Equal(t, "hybrid", out["mode"])
	assert.NotEmpty(t, out["results"])

	out, err = call(t, s.handleSearchCode, map[string]interface{}{
		"mode":       "metadata",
		"file_path":  "b.go",
		"node_types": []interface{}{"function"},
	})
	require.NoError(t, err)
	results := out["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, barID, results[0].(map[string]interface{})["node_id"])
}

func TestSearchCode_InvalidParams(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing query", map[string]interface{}{"mode": "semantic"}, ErrorCodeEmptyQuery},
		{"bad mode", map[string]interface{}{"query": "x", "mode": "fuzzy"}, ErrorCodeInvalidParams},
		{"limit too high", map[string]interface{}{"query": "x", "limit": float64(500)}, ErrorCodeInvalidParams},
		{"bad similarity", map[string]interface{}{"query": "x", "min_similarity": 1.5}, ErrorCodeInvalidParams},
		{"bad node type", map[string]interface{}{"query": "x", "node_types": []interface{}{"widget"}}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, s.handleSearchCode, tt.args)
			assert.Equal(t, tt.code, mcpCode(t, err))
		})
	}
}

func TestGraphTools_Errors(t *testing.T) {
	s := newTestServer(t)
	_, err := call(t, s.handleIndexCodebase, nil)
	require.NoError(t, err)

	_, err = call(t, s.handleGetCallers, map[string]interface{}{})
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = call(t, s.handleGetCallers, map[string]interface{}{"node_id": "func:nope.go:x:1:1"})
	assert.Equal(t, ErrorCodeNodeNotFound, mcpCode(t, err))

	_, err = call(t, s.handleFindCallChain, map[string]interface{}{"from": fooID, "to": barID, "max_depth": float64(0)})
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestFindSimilar_NoEmbedding(t *testing.T) {
	s := newTestServer(t)
	_, err := call(t, s.handleIndexCodebase, nil)
	require.NoError(t, err)

	// Without an embedder every row is stored without a vector.
	_, err = call(t, s.handleFindSimilar, map[string]interface{}{"node_id": fooID})
	assert.Equal(t, ErrorCodeNodeNotFound, mcpCode(t, err))

	_, err = call(t, s.handleFindSimilar, map[string]interface{}{"node_id": "func:missing.go:x:1:1"})
	assert.Equal(t, ErrorCodeNodeNotFound, mcpCode(t, err))
}

func TestGetStatus_BeforeIndexing(t *testing.T) {
	s := newTestServer(t)

	out, err := call(t, s.handleGetStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out["last_indexed_commit"])
	assert.Equal(t, false, out["indexed"])

	embeddings := out["embeddings"].(map[string]interface{})
	assert.Equal(t, float64(0), embeddings["total_records"])
}

func TestIndexCodebase_InProgress(t *testing.T) {
	s := newTestServer(t)
	lock := filepath.Join(t.TempDir(), "index.lock")
	s.indexer = indexer.New(s.indexer.Root(), s.storage,
		indexer.WithLogger(logging.Discard()),
		indexer.WithConfig(indexer.Config{LockPath: lock}))

	held := indexer.NewFileLock(lock)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = held.Unlock() }()

	_, err = call(t, s.handleIndexCodebase, nil)
	assert.Equal(t, ErrorCodeIndexingInProgress, mcpCode(t, err))
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeNotIndexed, "not indexed", nil)
	assert.Equal(t, "MCP error -32003: not indexed", err.Error())
}

func TestSnippet(t *testing.T) {
	short := "func a() {}"
	assert.Equal(t, short, snippet(short))

	long := make([]byte, snippetLength+10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, snippet(string(long)), snippetLength+3)
}
