package graph

import (
	"sort"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// snapshot is an immutable view of the graph. It is never modified after
// buildSnapshot returns.
type snapshot struct {
	nodes       map[string]types.Node
	ordered     []types.Node
	edges       []types.Edge
	out         map[string][]types.Edge
	in          map[string][]types.Edge
	nodesByType map[types.NodeType][]types.Node
	edgesByType map[types.EdgeType][]types.Edge
}

func buildSnapshot(nodes []types.Node, edges []types.Edge) *snapshot {
	s := &snapshot{
		nodes:       make(map[string]types.Node, len(nodes)),
		edges:       make([]types.Edge, 0, len(edges)),
		out:         make(map[string][]types.Edge),
		in:          make(map[string][]types.Edge),
		nodesByType: make(map[types.NodeType][]types.Node),
		edgesByType: make(map[types.EdgeType][]types.Edge),
	}

	for _, n := range nodes {
		if n == nil {
			continue
		}
		s.nodes[n.NodeID()] = n
	}
	s.ordered = make([]types.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		s.ordered = append(s.ordered, n)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].NodeID() < s.ordered[j].NodeID() })
	for _, n := range s.ordered {
		s.nodesByType[n.NodeType()] = append(s.nodesByType[n.NodeType()], n)
	}

	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		key := e.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		s.edges = append(s.edges, e)
		s.out[e.SourceID] = append(s.out[e.SourceID], e)
		s.in[e.TargetID] = append(s.in[e.TargetID], e)
		s.edgesByType[e.Type] = append(s.edgesByType[e.Type], e)
	}
	return s
}
