package types

import "sort"

// EdgeType is the relation carried by an edge.
type EdgeType string

const (
	EdgeContains       EdgeType = "CONTAINS"
	EdgeDefinedIn      EdgeType = "DEFINED_IN"
	EdgeCalls          EdgeType = "CALLS"
	EdgeModified       EdgeType = "MODIFIED"
	EdgeEvolvedBy      EdgeType = "EVOLVED_BY"
	EdgeIncludesCommit EdgeType = "INCLUDES_COMMIT"
	EdgeImports        EdgeType = "IMPORTS"
)

// AllEdgeTypes lists every edge type in a stable order.
var AllEdgeTypes = []EdgeType{
	EdgeContains, EdgeDefinedIn, EdgeCalls, EdgeModified, EdgeEvolvedBy, EdgeIncludesCommit, EdgeImports,
}

// Edge is a directed, typed relation between two nodes.
type Edge struct {
	SourceID   string
	TargetID   string
	Type       EdgeType
	Properties map[string]string
}

// Key identifies the edge. Two edges with the same key are the same relation.
func (e Edge) Key() string {
	return e.SourceID + "|" + string(e.Type) + "|" + e.TargetID
}

// Graph is a node and edge set.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Sort orders nodes by id and edges by key.
func (g *Graph) Sort() {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].NodeID() < g.Nodes[j].NodeID() })
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].Key() < g.Edges[j].Key() })
}
