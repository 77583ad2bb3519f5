package extractor

import (
	"slices"
	"sort"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// callGraph holds the linked CALLS relation between function ids.
type callGraph struct {
	callees map[string][]string
	callers map[string][]string
	fileOf  map[string]string

	known   map[string]bool // ids of stored functions outside this extraction
	current map[string]bool // ids of functions extracted in this run
}

// linkCalls creates CALLS edges by matching each call site's identifier
// against function names. Functions in the caller's own file win; when the
// file has none with that name, every function with the name is a target,
// including the known functions stored for files outside this extraction.
// There is no scope or type resolution.
//
// Stored calls from known functions into extracted functions are re-linked
// when the target id still exists.
func linkCalls(b *graphBuilder, files []*fileExtraction, known []*types.FunctionNode) *callGraph {
	cg := &callGraph{
		callees: make(map[string][]string),
		callers: make(map[string][]string),
		fileOf:  make(map[string]string),
		known:   make(map[string]bool),
		current: make(map[string]bool),
	}

	global := make(map[string][]string)
	local := make([]map[string][]string, len(files))
	for i, fx := range files {
		local[i] = make(map[string][]string)
		for _, fn := range fx.functions {
			local[i][fn.Name] = append(local[i][fn.Name], fn.ID)
			global[fn.Name] = append(global[fn.Name], fn.ID)
			cg.fileOf[fn.ID] = fx.fileID
			cg.current[fn.ID] = true
		}
	}
	for _, fn := range known {
		global[fn.Name] = append(global[fn.Name], fn.ID)
		cg.fileOf[fn.ID] = types.FileID(fn.FilePath)
		cg.known[fn.ID] = true
	}

	seen := make(map[string]bool)
	link := func(source, target string) {
		edge := types.Edge{SourceID: source, TargetID: target, Type: types.EdgeCalls}
		if seen[edge.Key()] {
			return
		}
		seen[edge.Key()] = true
		b.addEdge(edge)
		cg.callees[source] = append(cg.callees[source], target)
		cg.callers[target] = append(cg.callers[target], source)
	}

	for i, fx := range files {
		for _, fn := range fx.functions {
			for _, call := range fx.calls[fn.ID] {
				targets := local[i][call.Name]
				if len(targets) == 0 {
					targets = global[call.Name]
				}
				for _, target := range targets {
					link(fn.ID, target)
				}
			}
		}
	}

	for _, fn := range known {
		for _, target := range fn.Calls {
			switch {
			case cg.current[target]:
				link(fn.ID, target)
			case cg.known[target]:
				// Stored already; needed for call depth only.
				cg.callees[fn.ID] = append(cg.callees[fn.ID], target)
			}
		}
	}

	for id := range cg.callees {
		sort.Strings(cg.callees[id])
	}
	for id := range cg.callers {
		sort.Strings(cg.callers[id])
	}
	return cg
}

// refreshKnown recomputes the call graph fields of known functions and adds
// the ones that changed to the output, so their stored copies are replaced.
// Callers that no longer exist are dropped from CalledBy.
func refreshKnown(b *graphBuilder, known []*types.FunctionNode, cg *callGraph) int {
	refreshed := 0
	for _, fn := range known {
		updated := *fn

		calledBy := make([]string, 0, len(fn.CalledBy))
		for _, caller := range fn.CalledBy {
			if cg.known[caller] {
				calledBy = append(calledBy, caller)
			}
		}
		calledBy = append(calledBy, cg.callers[fn.ID]...)
		sort.Strings(calledBy)
		updated.CalledBy = slices.Compact(calledBy)

		fileID := types.FileID(fn.FilePath)
		setCallees(&updated, fileID, cg)

		if !sameCallFields(fn, &updated) {
			b.addNode(&updated)
			refreshed++
		}
	}
	return refreshed
}

// setCallees fills the callee-derived fields of fn from the linked graph.
func setCallees(fn *types.FunctionNode, fileID string, cg *callGraph) {
	callees := cg.callees[fn.ID]
	fn.Calls = append([]string{}, callees...)
	fn.InternalCallGraph = []string{}
	fn.UsesExternalCallee = false
	for _, callee := range callees {
		if cg.fileOf[callee] == fileID {
			fn.InternalCallGraph = append(fn.InternalCallGraph, callee)
		} else {
			fn.UsesExternalCallee = true
		}
	}
	fn.TransitiveCallDepth = transitiveCallDepth(fn.ID, cg.callees, make(map[string]bool))
}

func sameCallFields(a, b *types.FunctionNode) bool {
	return slices.Equal(a.Calls, b.Calls) &&
		slices.Equal(a.CalledBy, b.CalledBy) &&
		slices.Equal(a.InternalCallGraph, b.InternalCallGraph) &&
		a.UsesExternalCallee == b.UsesExternalCallee &&
		a.TransitiveCallDepth == b.TransitiveCallDepth
}

// aggregateCallGraph fills in the derived call graph fields of every function.
func aggregateCallGraph(files []*fileExtraction, cg *callGraph) {
	for _, fx := range files {
		for _, fn := range fx.functions {
			fn.CalledBy = append([]string{}, cg.callers[fn.ID]...)
			setCallees(fn, fx.fileID, cg)
		}
	}
}

// transitiveCallDepth is 1 + the deepest callee, or 0 without callees. A
// function already visited in the current computation counts as 0, so the
// result is the longest simple call chain.
func transitiveCallDepth(id string, callees map[string][]string, visited map[string]bool) int {
	if visited[id] {
		return 0
	}
	visited[id] = true

	children := callees[id]
	if len(children) == 0 {
		return 0
	}
	deepest := 0
	for _, child := range children {
		if d := transitiveCallDepth(child, callees, visited); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}
