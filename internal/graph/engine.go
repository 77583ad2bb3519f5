package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// DefaultMaxDepth bounds FindCallChain when the caller passes no depth.
const DefaultMaxDepth = 10

// ErrGraphNotLoaded is returned by every query issued before Load succeeded.
var ErrGraphNotLoaded = errors.New("graph not loaded")

// Loader reads the persisted graph.
type Loader interface {
	LoadNodes(ctx context.Context) ([]types.Node, error)
	LoadEdges(ctx context.Context) ([]types.Edge, error)
}

// Stats counts nodes and edges by type.
type Stats struct {
	Nodes       int                    `json:"nodes"`
	Edges       int                    `json:"edges"`
	NodesByType map[types.NodeType]int `json:"nodes_by_type"`
	EdgesByType map[types.EdgeType]int `json:"edges_by_type"`
}

// Engine answers structural queries over an in-memory snapshot of the graph.
// Load replaces the snapshot atomically; readers never see a partial graph.
type Engine struct {
	loader Loader
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// NewEngine returns an engine that loads from loader. It holds no graph until
// Load is called.
func NewEngine(loader Loader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{loader: loader, logger: logger}
}

// Load reads every node and edge and swaps in a new snapshot.
func (e *Engine) Load(ctx context.Context) error {
	nodes, err := e.loader.LoadNodes(ctx)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	edges, err := e.loader.LoadEdges(ctx)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}

	s := buildSnapshot(nodes, edges)
	e.snap.Store(s)
	e.logger.Info("graph.load", "nodes", len(s.nodes), "edges", len(s.edges))
	return nil
}

// Loaded reports whether a snapshot is available.
func (e *Engine) Loaded() bool {
	return e.snap.Load() != nil
}

func (e *Engine) current() (*snapshot, error) {
	s := e.snap.Load()
	if s == nil {
		return nil, ErrGraphNotLoaded
	}
	return s, nil
}

// Node returns the node with id, or nil when absent.
func (e *Engine) Node(id string) (types.Node, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	return s.nodes[id], nil
}

// OutgoingEdges returns the edges whose source is id.
func (e *Engine) OutgoingEdges(id string) ([]types.Edge, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	return cloneEdges(s.out[id]), nil
}

// IncomingEdges returns the edges whose target is id.
func (e *Engine) IncomingEdges(id string) ([]types.Edge, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	return cloneEdges(s.in[id]), nil
}

// Callees returns the functions id calls directly.
func (e *Engine) Callees(id string) ([]*types.FunctionNode, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	var out []*types.FunctionNode
	for _, edge := range s.out[id] {
		if edge.Type != types.EdgeCalls {
			continue
		}
		if fn, ok := s.nodes[edge.TargetID].(*types.FunctionNode); ok {
			out = append(out, fn)
		}
	}
	return out, nil
}

// Callers returns the functions that call id directly.
func (e *Engine) Callers(id string) ([]*types.FunctionNode, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	var out []*types.FunctionNode
	for _, edge := range s.in[id] {
		if edge.Type != types.EdgeCalls {
			continue
		}
		if fn, ok := s.nodes[edge.SourceID].(*types.FunctionNode); ok {
			out = append(out, fn)
		}
	}
	return out, nil
}

// FindCallChain returns the shortest CALLS path from one function to another
// as a list of node ids, both ends included. It returns nil when no path of
// at most maxDepth edges exists. maxDepth <= 0 means DefaultMaxDepth.
func (e *Engine) FindCallChain(from, to string, maxDepth int) ([]string, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if _, ok := s.nodes[from]; !ok {
		return nil, nil
	}
	if from == to {
		return []string{from}, nil
	}

	type hop struct {
		id    string
		depth int
	}
	parent := map[string]string{from: ""}
	queue := []hop{{from, 0}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			continue
		}

		for _, edge := range s.out[item.id] {
			if edge.Type != types.EdgeCalls {
				continue
			}
			next := edge.TargetID
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = item.id
			if next == to {
				return buildPath(parent, from, to), nil
			}
			queue = append(queue, hop{next, item.depth + 1})
		}
	}
	return nil, nil
}

func buildPath(parent map[string]string, from, to string) []string {
	var rev []string
	for id := to; ; id = parent[id] {
		rev = append(rev, id)
		if id == from {
			break
		}
	}
	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// FunctionsInFile returns the functions defined in a file, given either its
// FileNode id or its project-relative path.
func (e *Engine) FunctionsInFile(file string) ([]*types.FunctionNode, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	var out []*types.FunctionNode
	for _, edge := range s.in[fileRef(file)] {
		if edge.Type != types.EdgeDefinedIn {
			continue
		}
		if fn, ok := s.nodes[edge.SourceID].(*types.FunctionNode); ok {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Dependents returns the files that import the given file, either directly or
// through an IMPORTS edge to the directory of its package.
func (e *Engine) Dependents(file string) ([]*types.FileNode, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}

	fileID := fileRef(file)
	targets := []string{fileID}
	if dir := path.Dir(strings.TrimPrefix(fileID, "file:")); dir != "." {
		targets = append(targets, types.DirectoryID(dir))
	}

	seen := make(map[string]bool)
	var out []*types.FileNode
	for _, target := range targets {
		for _, edge := range s.in[target] {
			if edge.Type != types.EdgeImports || edge.SourceID == fileID || seen[edge.SourceID] {
				continue
			}
			if fn, ok := s.nodes[edge.SourceID].(*types.FileNode); ok {
				seen[edge.SourceID] = true
				out = append(out, fn)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindNodes returns every node matching pred, ordered by id.
func (e *Engine) FindNodes(pred func(types.Node) bool) ([]types.Node, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	var out []types.Node
	for _, n := range s.ordered {
		if pred == nil || pred(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// FindEdges returns every edge matching pred in load order.
func (e *Engine) FindEdges(pred func(types.Edge) bool) ([]types.Edge, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	var out []types.Edge
	for _, edge := range s.edges {
		if pred == nil || pred(edge) {
			out = append(out, edge)
		}
	}
	return out, nil
}

// NodesByType returns the nodes of one type, ordered by id.
func (e *Engine) NodesByType(t types.NodeType) ([]types.Node, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	return append([]types.Node(nil), s.nodesByType[t]...), nil
}

// Stats returns node and edge counts.
func (e *Engine) Stats() (*Stats, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Nodes:       len(s.nodes),
		Edges:       len(s.edges),
		NodesByType: make(map[types.NodeType]int, len(s.nodesByType)),
		EdgesByType: make(map[types.EdgeType]int, len(s.edgesByType)),
	}
	for t, ns := range s.nodesByType {
		st.NodesByType[t] = len(ns)
	}
	for t, es := range s.edgesByType {
		st.EdgesByType[t] = len(es)
	}
	return st, nil
}

func fileRef(file string) string {
	if strings.HasPrefix(file, "file:") {
		return file
	}
	return types.FileID(file)
}

func cloneEdges(edges []types.Edge) []types.Edge {
	if len(edges) == 0 {
		return nil
	}
	return append([]types.Edge(nil), edges...)
}
