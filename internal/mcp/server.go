package mcp

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codegraph-mcp/internal/explainer"
	"github.com/dshills/codegraph-mcp/internal/graph"
	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codegraph-mcp"
)

// Deps are the components the tools call into. Explainer and Logger are
// optional, every other component is required.
type Deps struct {
	Store     storage.Storage
	Indexer   *indexer.Indexer
	Searcher  *searcher.Searcher
	Graph     *graph.Engine
	Explainer *explainer.Explainer
	Logger    *slog.Logger
	Version   string
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	graph     *graph.Engine
	explainer *explainer.Explainer
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance for one project
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Indexer == nil || deps.Searcher == nil || deps.Graph == nil {
		return nil, errors.New("mcp: store, indexer, searcher and graph are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		storage:   deps.Store,
		indexer:   deps.Indexer,
		searcher:  deps.Searcher,
		graph:     deps.Graph,
		explainer: deps.Explainer,
		logger:    deps.Logger,
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over the given streams until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(findSimilarTool(), s.handleFindSimilar)
	s.mcp.AddTool(getCallersTool(), s.handleGetCallers)
	s.mcp.AddTool(getCalleesTool(), s.handleGetCallees)
	s.mcp.AddTool(findCallChainTool(), s.handleFindCallChain)
	s.mcp.AddTool(fileFunctionsTool(), s.handleFileFunctions)
	s.mcp.AddTool(getDependentsTool(), s.handleGetDependents)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(explainCodeTool(), s.handleExplainCode)
}

// slogWriter forwards the transport's error log lines to slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Error("mcp.transport", "error", string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
