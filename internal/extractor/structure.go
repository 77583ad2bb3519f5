package extractor

import (
	"path"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// graphBuilder collects nodes and edges, dropping duplicates by identity.
type graphBuilder struct {
	nodes map[string]types.Node
	edges map[string]types.Edge
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{
		nodes: make(map[string]types.Node),
		edges: make(map[string]types.Edge),
	}
}

func (b *graphBuilder) addNode(n types.Node) {
	if _, ok := b.nodes[n.NodeID()]; !ok {
		b.nodes[n.NodeID()] = n
	}
}

func (b *graphBuilder) addEdge(e types.Edge) {
	if _, ok := b.edges[e.Key()]; !ok {
		b.edges[e.Key()] = e
	}
}

func (b *graphBuilder) graph() *types.Graph {
	g := &types.Graph{
		Nodes: make([]types.Node, 0, len(b.nodes)),
		Edges: make([]types.Edge, 0, len(b.edges)),
	}
	for _, n := range b.nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for _, e := range b.edges {
		g.Edges = append(g.Edges, e)
	}
	g.Sort()
	return g
}

// addStructure adds the directory chain of relPath below the project root
// and the CONTAINS edges linking it down to the file.
func (b *graphBuilder) addStructure(relPath, fileID string) {
	child := fileID
	for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
		dirID := types.DirectoryID(dir)
		b.addNode(&types.DirectoryNode{ID: dirID, Path: dir, Name: path.Base(dir)})
		b.addEdge(types.Edge{SourceID: dirID, TargetID: child, Type: types.EdgeContains})
		child = dirID
	}
}
