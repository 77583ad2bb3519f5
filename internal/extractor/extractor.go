package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph-mcp/internal/parser"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Extractor turns source files into graph nodes and edges. It owns directory,
// code, function and test nodes; file nodes are assigned by the caller.
type Extractor struct {
	root       string
	modulePath string
	workers    int
	parser     *parser.Parser
	logger     *slog.Logger
	readFile   func(string) ([]byte, error)
	known      []*types.FunctionNode
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers bounds the number of files parsed concurrently.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithModulePath sets the Go module path used to resolve in-project imports.
func WithModulePath(modulePath string) Option {
	return func(e *Extractor) { e.modulePath = strings.TrimSuffix(modulePath, "/") }
}

// WithLogger sets the logger used for skipped files.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithKnownFunctions supplies the stored functions of files that are not
// being extracted. Calls can resolve to them, and those whose call graph
// fields change are returned in the output graph.
func WithKnownFunctions(fns []*types.FunctionNode) Option {
	return func(e *Extractor) { e.known = fns }
}

// New creates an Extractor for the project rooted at root.
func New(root string, opts ...Option) *Extractor {
	e := &Extractor{
		root:     filepath.Clean(root),
		workers:  runtime.NumCPU(),
		parser:   parser.New(),
		logger:   slog.Default(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// fileExtraction is the per-file output of the parse pass.
type fileExtraction struct {
	fileID    string
	relPath   string
	functions []*types.FunctionNode
	calls     map[string][]types.CallSite // function id -> call sites
	nodes     []types.Node
	edges     []types.Edge
}

// Extract builds the node and edge set for exactly the given absolute file
// paths. fileIDs maps each absolute path to its already assigned file node
// id. Files that cannot be read or parsed are logged and skipped.
func (e *Extractor) Extract(ctx context.Context, filePaths []string, fileIDs map[string]string) (*types.Graph, error) {
	b := newGraphBuilder()

	filePaths = dedupe(filePaths)
	relPaths := make([]string, len(filePaths))
	ids := make([]string, len(filePaths))
	for i, p := range filePaths {
		rel, err := e.relPath(p)
		if err != nil {
			return nil, err
		}
		relPaths[i] = rel
		ids[i] = fileIDs[p]
		if ids[i] == "" {
			ids[i] = types.FileID(rel)
		}
		b.addStructure(rel, ids[i])
	}

	results := make([]*fileExtraction, len(filePaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range filePaths {
		if !parser.IsAnalyzable(parser.DetectLanguage(relPaths[i])) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.extractFile(filePaths[i], relPaths[i], ids[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var extracted []*fileExtraction
	for _, fx := range results {
		if fx == nil {
			continue
		}
		extracted = append(extracted, fx)
		for _, n := range fx.nodes {
			b.addNode(n)
		}
		for _, edge := range fx.edges {
			b.addEdge(edge)
		}
	}

	extracting := make(map[string]bool, len(relPaths))
	for _, rel := range relPaths {
		extracting[rel] = true
	}
	known := make([]*types.FunctionNode, 0, len(e.known))
	for _, fn := range e.known {
		if !extracting[fn.FilePath] {
			known = append(known, fn)
		}
	}

	cg := linkCalls(b, extracted, known)
	aggregateCallGraph(extracted, cg)
	refreshed := refreshKnown(b, known, cg)

	graph := b.graph()
	e.logger.Debug("extract.done",
		"files", len(filePaths),
		"parsed", len(extracted),
		"refreshed", refreshed,
		"nodes", len(graph.Nodes),
		"edges", len(graph.Edges))
	return graph, nil
}

// extractFile runs the structural parse for one file. It returns nil when
// the file is skipped.
func (e *Extractor) extractFile(absPath, relPath, fileID string) *fileExtraction {
	content, err := e.readFile(absPath)
	if err != nil {
		e.logger.Warn("extract.file.skip", "path", relPath, "err", err)
		return nil
	}

	result := e.parser.ParseSource(absPath, content)
	if result.HasErrors() {
		e.logger.Warn("extract.file.skip", "path", relPath, "err", result.Err())
		return nil
	}

	fx := &fileExtraction{
		fileID:  fileID,
		relPath: relPath,
		calls:   make(map[string][]types.CallSite),
	}

	isTestFile := parser.IsTestPath(relPath)
	framework := ""
	if isTestFile {
		framework = parser.GuessTestFramework(result.Imports)
	}

	for i := range result.Symbols {
		sym := &result.Symbols[i]
		switch {
		case sym.IsCallable():
			fn := newFunctionNode(relPath, sym)
			fx.functions = append(fx.functions, fn)
			fx.calls[fn.ID] = sym.Calls
			fx.nodes = append(fx.nodes, fn)
			fx.edges = append(fx.edges, definedIn(fn.ID, fileID))

			if isTestFile && sym.Kind == types.KindFunction && parser.IsTestFunction(sym.Name) {
				tn := &types.TestNode{
					ID:          types.TestID(relPath, sym.Name, sym.Start.Line, sym.Start.Column),
					Name:        sym.Name,
					FilePath:    relPath,
					Framework:   framework,
					Body:        sym.Body,
					StartLine:   sym.Start.Line,
					StartColumn: sym.Start.Column,
					EndLine:     sym.End.Line,
				}
				fx.nodes = append(fx.nodes, tn)
				fx.edges = append(fx.edges, definedIn(tn.ID, fileID))
			}

		case sym.Kind == types.KindStruct || sym.Kind == types.KindInterface:
			kind := types.CodeClass
			if sym.Kind == types.KindInterface {
				kind = types.CodeInterface
			}
			cn := &types.CodeNode{
				ID:          types.CodeID(relPath, sym.Name, sym.Start.Line, sym.Start.Column),
				Name:        sym.Name,
				Kind:        kind,
				FilePath:    relPath,
				Signature:   sym.Signature,
				Body:        sym.Body,
				Language:    parser.LangGo,
				StartLine:   sym.Start.Line,
				StartColumn: sym.Start.Column,
				EndLine:     sym.End.Line,
			}
			fx.nodes = append(fx.nodes, cn)
			fx.edges = append(fx.edges, definedIn(cn.ID, fileID))
		}
	}

	fx.edges = append(fx.edges, e.importEdges(fileID, result.Imports)...)
	return fx
}

// importEdges links a file to the directories of the in-module packages it
// imports.
func (e *Extractor) importEdges(fileID string, imports []types.Import) []types.Edge {
	if e.modulePath == "" {
		return nil
	}
	var edges []types.Edge
	prefix := e.modulePath + "/"
	for _, imp := range imports {
		if !strings.HasPrefix(imp.Path, prefix) {
			continue
		}
		dir := strings.TrimPrefix(imp.Path, prefix)
		edges = append(edges, types.Edge{
			SourceID:   fileID,
			TargetID:   types.DirectoryID(dir),
			Type:       types.EdgeImports,
			Properties: map[string]string{"import_path": imp.Path},
		})
	}
	return edges
}

func (e *Extractor) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(e.root, absPath)
	if err != nil {
		return "", fmt.Errorf("path %s outside root %s: %w", absPath, e.root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s outside root %s", absPath, e.root)
	}
	return filepath.ToSlash(rel), nil
}

func newFunctionNode(relPath string, sym *types.Symbol) *types.FunctionNode {
	return &types.FunctionNode{
		ID:          types.FunctionID(relPath, sym.Name, sym.Start.Line, sym.Start.Column),
		Name:        sym.Name,
		FilePath:    relPath,
		Receiver:    sym.Receiver,
		Signature:   sym.Signature,
		ReturnType:  sym.ReturnType,
		Access:      string(sym.Scope),
		Body:        sym.Body,
		Language:    parser.LangGo,
		StartLine:   sym.Start.Line,
		StartColumn: sym.Start.Column,
		EndLine:     sym.End.Line,
	}
}

func definedIn(nodeID, fileID string) types.Edge {
	return types.Edge{SourceID: nodeID, TargetID: fileID, Type: types.EdgeDefinedIn}
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
