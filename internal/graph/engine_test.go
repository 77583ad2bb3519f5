package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dshills/codegraph-mcp/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	nodes []types.Node
	edges []types.Edge
	err   error
}

func (f *fakeLoader) LoadNodes(context.Context) ([]types.Node, error) { return f.nodes, f.err }
func (f *fakeLoader) LoadEdges(context.Context) ([]types.Edge, error) { return f.edges, f.err }

func fn(path, name string, line int) *types.FunctionNode {
	return &types.FunctionNode{ID: types.FunctionID(path, name, line, 1), Name: name, FilePath: path, StartLine: line}
}

func calls(from, to *types.FunctionNode) types.Edge {
	return types.Edge{SourceID: from.ID, TargetID: to.ID, Type: types.EdgeCalls}
}

func definedIn(f *types.FunctionNode) types.Edge {
	return types.Edge{SourceID: f.ID, TargetID: types.FileID(f.FilePath), Type: types.EdgeDefinedIn}
}

// diamond builds A->B->D and A->C->D plus an unreachable E.
func diamond() (*fakeLoader, map[string]*types.FunctionNode) {
	fns := map[string]*types.FunctionNode{
		"A": fn("pkg/a.go", "A", 3),
		"B": fn("pkg/a.go", "B", 10),
		"C": fn("pkg/c.go", "C", 1),
		"D": fn("pkg/d.go", "D", 1),
		"E": fn("pkg/d.go", "E", 20),
	}
	loader := &fakeLoader{
		nodes: []types.Node{
			&types.FileNode{ID: types.FileID("pkg/a.go"), Path: "pkg/a.go"},
			&types.FileNode{ID: types.FileID("pkg/c.go"), Path: "pkg/c.go"},
			&types.FileNode{ID: types.FileID("pkg/d.go"), Path: "pkg/d.go"},
			&types.FileNode{ID: types.FileID("cmd/main.go"), Path: "cmd/main.go"},
			&types.FileNode{ID: types.FileID("cmd/tool.go"), Path: "cmd/tool.go"},
			&types.DirectoryNode{ID: types.DirectoryID("pkg"), Path: "pkg", Name: "pkg"},
			fns["A"], fns["B"], fns["C"], fns["D"], fns["E"],
		},
		edges: []types.Edge{
			calls(fns["A"], fns["B"]),
			calls(fns["A"], fns["C"]),
			calls(fns["B"], fns["D"]),
			calls(fns["C"], fns["D"]),
			calls(fns["B"], fns["D"]), // duplicate is ignored
			definedIn(fns["A"]), definedIn(fns["B"]), definedIn(fns["C"]),
			definedIn(fns["D"]), definedIn(fns["E"]),
			{SourceID: types.FileID("cmd/main.go"), TargetID: types.DirectoryID("pkg"), Type: types.EdgeImports},
			{SourceID: types.FileID("cmd/tool.go"), TargetID: types.FileID("pkg/d.go"), Type: types.EdgeImports},
			{SourceID: types.DirectoryID("pkg"), TargetID: types.FileID("pkg/a.go"), Type: types.EdgeContains},
		},
	}
	return loader, fns
}

func loadedEngine(t *testing.T) (*Engine, map[string]*types.FunctionNode) {
	t.Helper()
	loader, fns := diamond()
	e := NewEngine(loader, nil)
	require.NoError(t, e.Load(context.Background()))
	return e, fns
}

func TestEngine_NotLoaded(t *testing.T) {
	e := NewEngine(&fakeLoader{}, nil)
	assert.False(t, e.Loaded())

	_, err := e.Node("x")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.OutgoingEdges("x")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.IncomingEdges("x")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.Callees("x")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.Callers("x")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.FindCallChain("a", "b", 0)
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.FunctionsInFile("a.go")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.Dependents("a.go")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.FindNodes(nil)
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.FindEdges(nil)
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	_, err = e.Stats()
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
}

func TestEngine_LoadError(t *testing.T) {
	e := NewEngine(&fakeLoader{err: errors.New("db gone")}, nil)
	assert.Error(t, e.Load(context.Background()))
	assert.False(t, e.Loaded())
}

func TestEngine_CallersAndCallees(t *testing.T) {
	e, fns := loadedEngine(t)

	callees, err := e.Callees(fns["A"].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []*types.FunctionNode{fns["B"], fns["C"]}, callees)

	callers, err := e.Callers(fns["D"].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []*types.FunctionNode{fns["B"], fns["C"]}, callers)

	callers, err = e.Callers(fns["A"].ID)
	require.NoError(t, err)
	assert.Empty(t, callers)
}

func TestEngine_Edges(t *testing.T) {
	e, fns := loadedEngine(t)

	out, err := e.OutgoingEdges(fns["B"].ID)
	require.NoError(t, err)
	assert.Len(t, out, 2) // CALLS D and DEFINED_IN

	in, err := e.IncomingEdges(types.FileID("pkg/a.go"))
	require.NoError(t, err)
	assert.Len(t, in, 3) // A, B defined in; pkg contains

	none, err := e.OutgoingEdges("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEngine_FindCallChain(t *testing.T) {
	e, fns := loadedEngine(t)

	t.Run("shortest path through diamond", func(t *testing.T) {
		chain, err := e.FindCallChain(fns["A"].ID, fns["D"].ID, 0)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, fns["A"].ID, chain[0])
		assert.Contains(t, []string{fns["B"].ID, fns["C"].ID}, chain[1])
		assert.Equal(t, fns["D"].ID, chain[2])
	})

	t.Run("no path", func(t *testing.T) {
		chain, err := e.FindCallChain(fns["A"].ID, fns["E"].ID, 0)
		require.NoError(t, err)
		assert.Nil(t, chain)
	})

	t.Run("reverse direction has no path", func(t *testing.T) {
		chain, err := e.FindCallChain(fns["D"].ID, fns["A"].ID, 0)
		require.NoError(t, err)
		assert.Nil(t, chain)
	})

	t.Run("depth bound", func(t *testing.T) {
		chain, err := e.FindCallChain(fns["A"].ID, fns["D"].ID, 1)
		require.NoError(t, err)
		assert.Nil(t, chain)

		chain, err = e.FindCallChain(fns["A"].ID, fns["B"].ID, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{fns["A"].ID, fns["B"].ID}, chain)
	})

	t.Run("same node", func(t *testing.T) {
		chain, err := e.FindCallChain(fns["A"].ID, fns["A"].ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{fns["A"].ID}, chain)
	})

	t.Run("unknown start", func(t *testing.T) {
		chain, err := e.FindCallChain("func:nope:X:1:1", fns["A"].ID, 0)
		require.NoError(t, err)
		assert.Nil(t, chain)
	})
}

func TestEngine_FindCallChain_Cycle(t *testing.T) {
	a, b, c := fn("x.go", "a", 1), fn("x.go", "b", 5), fn("x.go", "c", 9)
	e := NewEngine(&fakeLoader{
		nodes: []types.Node{a, b, c},
		edges: []types.Edge{calls(a, b), calls(b, a), calls(b, c)},
	}, nil)
	require.NoError(t, e.Load(context.Background()))

	chain, err := e.FindCallChain(a.ID, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, chain)
}

func TestEngine_FunctionsInFile(t *testing.T) {
	e, fns := loadedEngine(t)

	byPath, err := e.FunctionsInFile("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, []*types.FunctionNode{fns["A"], fns["B"]}, byPath)

	byID, err := e.FunctionsInFile(types.FileID("pkg/d.go"))
	require.NoError(t, err)
	assert.Equal(t, []*types.FunctionNode{fns["D"], fns["E"]}, byID)
}

func TestEngine_Dependents(t *testing.T) {
	e, _ := loadedEngine(t)

	deps, err := e.Dependents("pkg/d.go")
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "cmd/main.go", deps[0].Path)
	assert.Equal(t, "cmd/tool.go", deps[1].Path)

	deps, err = e.Dependents("cmd/main.go")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestEngine_FindNodesAndEdges(t *testing.T) {
	e, _ := loadedEngine(t)

	files, err := e.FindNodes(func(n types.Node) bool { return n.NodeType() == types.NodeFile })
	require.NoError(t, err)
	assert.Len(t, files, 5)
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].NodeID(), files[i].NodeID())
	}

	callEdges, err := e.FindEdges(func(ed types.Edge) bool { return ed.Type == types.EdgeCalls })
	require.NoError(t, err)
	assert.Len(t, callEdges, 4)

	funcs, err := e.NodesByType(types.NodeFunction)
	require.NoError(t, err)
	assert.Len(t, funcs, 5)
}

func TestEngine_Stats(t *testing.T) {
	e, _ := loadedEngine(t)

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 11, st.Nodes)
	assert.Equal(t, 12, st.Edges)
	assert.Equal(t, 5, st.NodesByType[types.NodeFunction])
	assert.Equal(t, 5, st.NodesByType[types.NodeFile])
	assert.Equal(t, 1, st.NodesByType[types.NodeDirectory])
	assert.Equal(t, 4, st.EdgesByType[types.EdgeCalls])
	assert.Equal(t, 5, st.EdgesByType[types.EdgeDefinedIn])
	assert.Equal(t, 2, st.EdgesByType[types.EdgeImports])
}

func TestEngine_ReloadReplacesSnapshot(t *testing.T) {
	loader, fns := diamond()
	e := NewEngine(loader, nil)
	require.NoError(t, e.Load(context.Background()))

	loader.nodes = []types.Node{fns["A"]}
	loader.edges = nil

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := e.Stats()
			assert.NoError(t, err)
			assert.Contains(t, []int{1, 11}, st.Nodes)
		}()
	}
	require.NoError(t, e.Load(context.Background()))
	wg.Wait()

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 0, st.Edges)
}
