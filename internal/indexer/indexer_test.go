package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/vcs"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// fakeSCM implements SourceControl, deletionLister and History.
type fakeSCM struct {
	rev        string
	revErr     error
	changed    []string
	changedErr error
	deleted    []string
	commits    []vcs.Commit
	commitsErr error
}

func (f *fakeSCM) CurrentRevision(ctx context.Context) (string, error) {
	return f.rev, f.revErr
}

func (f *fakeSCM) ChangedFiles(ctx context.Context, from, to string) ([]string, error) {
	return f.changed, f.changedErr
}

func (f *fakeSCM) DeletedFiles(ctx context.Context, from, to string) ([]string, error) {
	return f.deleted, nil
}

func (f *fakeSCM) Commits(ctx context.Context, limit int) ([]vcs.Commit, error) {
	return f.commits, f.commitsErr
}

// mockEmbedder returns [len(text), 1] and fails texts containing "FAIL". A
// batch fails as a whole when any of its texts does.
type mockEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches int
	err     error
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if strings.Contains(req.Text, "FAIL") {
		return nil, &embedder.InferenceError{Message: "cannot embed"}
	}
	return &embedder.Embedding{Vector: []float32{float32(len(req.Text)), 1}, Dimension: 2, Model: "mock"}, nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*embedder.Embedding, 0, len(req.Texts))
	for _, text := range req.Texts {
		if strings.Contains(text, "FAIL") {
			return nil, &embedder.InferenceError{Message: "cannot embed"}
		}
		out = append(out, &embedder.Embedding{Vector: []float32{float32(len(text)), 1}, Dimension: 2, Model: "mock"})
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out, Model: "mock"}, nil
}

func (m *mockEmbedder) Dimension() int { return 2 }
func (m *mockEmbedder) Model() string  { return "mock" }
func (m *mockEmbedder) Close() error   { return nil }

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nodesByType(t *testing.T, store storage.GraphStore) map[types.NodeType][]types.Node {
	t.Helper()
	nodes, err := store.LoadNodes(context.Background())
	require.NoError(t, err)
	out := make(map[types.NodeType][]types.Node)
	for _, n := range nodes {
		out[n.NodeType()] = append(out[n.NodeType()], n)
	}
	return out
}

func edgesOfType(t *testing.T, store storage.GraphStore, typ types.EdgeType) []types.Edge {
	t.Helper()
	edges, err := store.LoadEdges(context.Background())
	require.NoError(t, err)
	var out []types.Edge
	for _, e := range edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestPlanStrategy(t *testing.T) {
	tests := []struct {
		name      string
		scm       SourceControl
		last      string
		forceFull bool
		want      Plan
	}{
		{
			name: "no source control",
			last: "aaa",
			want: Plan{LastCommitHash: "aaa"},
		},
		{
			name: "not a repository",
			scm:  &fakeSCM{revErr: vcs.ErrNotRepository},
			last: "aaa",
			want: Plan{LastCommitHash: "aaa"},
		},
		{
			name: "first run",
			scm:  &fakeSCM{rev: "bbb"},
			want: Plan{CurrentCommitHash: "bbb"},
		},
		{
			name:      "forced full",
			scm:       &fakeSCM{rev: "bbb", changed: []string{"a.go"}},
			last:      "aaa",
			forceFull: true,
			want:      Plan{LastCommitHash: "aaa", CurrentCommitHash: "bbb"},
		},
		{
			name: "unchanged head",
			scm:  &fakeSCM{rev: "aaa", changed: []string{"a.go"}},
			last: "aaa",
			want: Plan{IsIncremental: true, LastCommitHash: "aaa", CurrentCommitHash: "aaa"},
		},
		{
			name: "changed files",
			scm:  &fakeSCM{rev: "bbb", changed: []string{"a.go", "sub/b.go"}, deleted: []string{"gone.go"}},
			last: "aaa",
			want: Plan{
				IsIncremental:     true,
				ChangedFiles:      []string{"a.go", "sub/b.go"},
				DeletedFiles:      []string{"gone.go"},
				LastCommitHash:    "aaa",
				CurrentCommitHash: "bbb",
			},
		},
		{
			name: "diff failure degrades to empty change set",
			scm:  &fakeSCM{rev: "bbb", changedErr: errors.New("bad object")},
			last: "aaa",
			want: Plan{IsIncremental: true, LastCommitHash: "aaa", CurrentCommitHash: "bbb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			if tt.last != "" {
				require.NoError(t, store.SetLastIndexedCommit(ctx, tt.last))
			}

			opts := []Option{WithLogger(quietLogger())}
			if tt.scm != nil {
				opts = append(opts, WithSourceControl(tt.scm))
			}
			idx := New(t.TempDir(), store, opts...)

			plan, err := idx.PlanStrategy(ctx, tt.forceFull)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *plan)

			last, err := store.GetLastIndexedCommit(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.last, last, "planning must not write state")
		})
	}
}

func TestIndexProject_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n\nfunc foo() {\n\tbar()\n}\n")
	writeFile(t, root, "b.go", "package p\n\nfunc bar() {}\n")

	store := newTestStore(t)
	emb := &mockEmbedder{}
	idx := New(root, store, WithEmbedder(emb), WithLogger(quietLogger()))

	stats, err := idx.IndexProject(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, stats.Incremental)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 2, stats.RecordsEmbedded)
	assert.Zero(t, stats.RecordsFailed)

	byType := nodesByType(t, store)
	require.Len(t, byType[types.NodeFile], 2)
	require.Len(t, byType[types.NodeFunction], 2)

	fns := make(map[string]*types.FunctionNode)
	for _, n := range byType[types.NodeFunction] {
		fn := n.(*types.FunctionNode)
		fns[fn.Name] = fn
	}
	foo, bar := fns["foo"], fns["bar"]
	require.NotNil(t, foo)
	require.NotNil(t, bar)

	calls := edgesOfType(t, store, types.EdgeCalls)
	require.Len(t, calls, 1)
	assert.Equal(t, foo.ID, calls[0].SourceID)
	assert.Equal(t, bar.ID, calls[0].TargetID)
	assert.Len(t, edgesOfType(t, store, types.EdgeDefinedIn), 2)

	assert.Equal(t, []string{foo.ID}, bar.CalledBy)
	assert.Equal(t, 1, foo.TransitiveCallDepth)
	assert.True(t, foo.UsesExternalCallee)

	rec, err := store.GetEmbedding(context.Background(), foo.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.go", rec.FilePath)
	assert.True(t, rec.HasEmbedding())
}

func TestIndexProject_Discovery(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/proj\n\ngo 1.25\n")
	writeFile(t, root, ".gitignore", "build/\n*.gen.go\n")
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "types.gen.go", "package main\n")
	writeFile(t, root, "build/out.go", "package build\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n")
	writeFile(t, root, ".hidden/x.go", "package x\n")
	writeFile(t, root, "README.md", "# proj\n")
	writeFile(t, root, "image.png", "not really a png")

	store := newTestStore(t)
	idx := New(root, store, WithLogger(quietLogger()))
	_, err := idx.IndexProject(context.Background(), false)
	require.NoError(t, err)

	var paths []string
	for _, n := range nodesByType(t, store)[types.NodeFile] {
		paths = append(paths, n.(*types.FileNode).Path)
	}
	assert.ElementsMatch(t, []string{"README.md", "go.mod", "main.go"}, paths)
}

func TestIndexProject_IncludeVendor(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n\nfunc Dep() {}\n")

	store := newTestStore(t)
	idx := New(root, store, WithLogger(quietLogger()), WithConfig(Config{IncludeVendor: true}))
	stats, err := idx.IndexProject(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)

	files := nodesByType(t, store)[types.NodeFile]
	require.Len(t, files, 1)
	assert.Equal(t, types.CategoryVendor, files[0].(*types.FileNode).Category)
}

func TestIndexProject_FileNodeMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/util_test.go", "package pkg\n\nimport \"testing\"\n\nfunc TestUtil(t *testing.T) {}\n")

	store := newTestStore(t)
	idx := New(root, store, WithLogger(quietLogger()))
	_, err := idx.IndexProject(context.Background(), false)
	require.NoError(t, err)

	byType := nodesByType(t, store)
	require.Len(t, byType[types.NodeFile], 1)
	fn := byType[types.NodeFile][0].(*types.FileNode)
	assert.Equal(t, "file:pkg/util_test.go", fn.ID)
	assert.Equal(t, "go", fn.Language)
	assert.Equal(t, types.CategoryTest, fn.Category)
	assert.Len(t, fn.ContentHash, 64)
	assert.Positive(t, fn.Size)

	assert.Len(t, byType[types.NodeTest], 1)
	assert.Len(t, byType[types.NodeDirectory], 1)
}

func TestIndexProject_CommitHistory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n\nfunc A() {}\n")

	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	scm := &fakeSCM{
		rev: "c2",
		commits: []vcs.Commit{
			{Hash: "c2", Author: "Dev", Date: when, Message: "Touch a", Files: []string{"a.go", "removed.go"}},
			{Hash: "c1", Author: "Dev", Date: when.Add(-time.Hour), Message: "Start", Files: []string{"removed.go"}},
		},
	}

	ctx := context.Background()
	store := newTestStore(t)
	idx := New(root, store, WithSourceControl(scm), WithEmbedder(&mockEmbedder{}), WithLogger(quietLogger()))
	stats, err := idx.IndexProject(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CommitsIndexed)
	assert.Equal(t, "c2", stats.CommitHash)

	commits := nodesByType(t, store)[types.NodeCommit]
	require.Len(t, commits, 2)

	modified := edgesOfType(t, store, types.EdgeModified)
	require.Len(t, modified, 1)
	assert.Equal(t, types.CommitID("c2"), modified[0].SourceID)
	assert.Equal(t, types.FileID("a.go"), modified[0].TargetID)

	evolved := edgesOfType(t, store, types.EdgeEvolvedBy)
	require.Len(t, evolved, 1)
	assert.Equal(t, types.FileID("a.go"), evolved[0].SourceID)

	rec, err := store.GetEmbedding(ctx, types.CommitID("c2"))
	require.NoError(t, err)
	assert.Contains(t, rec.SourceText, "Touch a")

	last, err := store.GetLastIndexedCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", last)
}

func TestIndexProject_CommitListingFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n")

	ctx := context.Background()
	store := newTestStore(t)
	scm := &fakeSCM{rev: "c1", commitsErr: errors.New("git log exploded")}
	idx := New(root, store, WithSourceControl(scm), WithLogger(quietLogger()))

	_, err := idx.IndexProject(ctx, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git log exploded")

	last, err := store.GetLastIndexedCommit(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestIndexProject_Incremental(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n\nfunc A() {}\n")
	writeFile(t, root, "b.go", "package p\n\nfunc B() {}\n")
	writeFile(t, root, "gone.go", "package p\n\nfunc Gone() {}\n")

	ctx := context.Background()
	store := newTestStore(t)
	scm := &fakeSCM{rev: "c1"}
	idx := New(root, store, WithSourceControl(scm), WithEmbedder(&mockEmbedder{}), WithLogger(quietLogger()))

	_, err := idx.IndexProject(ctx, false)
	require.NoError(t, err)

	writeFile(t, root, "a.go", "package p\n\nfunc A2() {}\n")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))
	scm.rev = "c2"
	scm.changed = []string{"a.go"}
	scm.deleted = []string{"gone.go"}

	stats, err := idx.IndexProject(ctx, false)
	require.NoError(t, err)
	assert.True(t, stats.Incremental)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesDeleted)

	var names []string
	for _, n := range nodesByType(t, store)[types.NodeFunction] {
		names = append(names, n.(*types.FunctionNode).Name)
	}
	assert.ElementsMatch(t, []string{"A2", "B"}, names)

	_, err = store.GetEmbedding(ctx, types.FunctionID("gone.go", "Gone", 3, 1))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	last, err := store.GetLastIndexedCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", last)
}

func functionsByName(t *testing.T, store storage.GraphStore) map[string]*types.FunctionNode {
	t.Helper()
	out := make(map[string]*types.FunctionNode)
	for _, n := range nodesByType(t, store)[types.NodeFunction] {
		fn := n.(*types.FunctionNode)
		out[fn.Name] = fn
	}
	return out
}

func TestIndexProject_IncrementalKeepsCrossFileCalls(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n\nfunc foo() {\n\tbar()\n}\n")
	writeFile(t, root, "b.go", "package p\n\nfunc bar() {}\n")
	writeFile(t, root, "c.go", "package p\n\nfunc baz() {\n\tfoo()\n}\n")

	ctx := context.Background()
	store := newTestStore(t)
	scm := &fakeSCM{rev: "c1"}
	idx := New(root, store, WithSourceControl(scm), WithEmbedder(&mockEmbedder{}), WithLogger(quietLogger()))

	_, err := idx.IndexProject(ctx, false)
	require.NoError(t, err)
	require.Len(t, edgesOfType(t, store, types.EdgeCalls), 2)

	fooID := types.FunctionID("a.go", "foo", 3, 1)
	barID := types.FunctionID("b.go", "bar", 3, 1)
	bazID := types.FunctionID("c.go", "baz", 3, 1)

	// Comment-only change that keeps foo's id.
	writeFile(t, root, "a.go", "package p\n\nfunc foo() {\n\tbar()\n}\n\n// trailing\n")
	scm.rev = "c2"
	scm.changed = []string{"a.go"}

	stats, err := idx.IndexProject(ctx, false)
	require.NoError(t, err)
	require.True(t, stats.Incremental)

	var keys []string
	for _, e := range edgesOfType(t, store, types.EdgeCalls) {
		keys = append(keys, e.Key())
	}
	assert.ElementsMatch(t, []string{
		fooID + "|CALLS|" + barID,
		bazID + "|CALLS|" + fooID,
	}, keys)

	fns := functionsByName(t, store)
	assert.Equal(t, []string{barID}, fns["foo"].Calls)
	assert.Equal(t, []string{bazID}, fns["foo"].CalledBy)
	assert.True(t, fns["foo"].UsesExternalCallee)
	assert.Equal(t, 1, fns["foo"].TransitiveCallDepth)
	assert.Equal(t, []string{fooID}, fns["bar"].CalledBy)
	assert.Equal(t, 2, fns["baz"].TransitiveCallDepth)

	// A leading comment moves foo, so its id changes.
	writeFile(t, root, "a.go", "package p\n\n// foo calls bar.\nfunc foo() {\n\tbar()\n}\n")
	scm.rev = "c3"

	_, err = idx.IndexProject(ctx, false)
	require.NoError(t, err)

	movedID := types.FunctionID("a.go", "foo", 4, 1)
	fns = functionsByName(t, store)
	assert.Equal(t, movedID, fns["foo"].ID)
	assert.Equal(t, []string{barID}, fns["foo"].Calls)
	assert.Equal(t, []string{movedID}, fns["bar"].CalledBy, "stale caller id is dropped")

	keys = keys[:0]
	for _, e := range edgesOfType(t, store, types.EdgeCalls) {
		keys = append(keys, e.Key())
	}
	assert.Contains(t, keys, movedID+"|CALLS|"+barID)
	assert.NotContains(t, keys, fooID+"|CALLS|"+barID)
}

func TestIndexProject_EmbeddingFailureKeepsRow(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n\nfunc Good() {}\n\nfunc Bad() {\n\t_ = \"FAIL\"\n}\n")

	ctx := context.Background()
	store := newTestStore(t)
	idx := New(root, store, WithEmbedder(&mockEmbedder{}), WithLogger(quietLogger()))

	stats, err := idx.IndexProject(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsEmbedded)
	assert.Equal(t, 1, stats.RecordsFailed)
	assert.Equal(t, 1, stats.RecordsNoVector)

	embStats, err := store.GetStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, embStats.TotalRecords)
	assert.Equal(t, 1, embStats.EmbeddedRecords)
}

func TestIndexProject_UnavailableEmbedderStopsEarly(t *testing.T) {
	root := t.TempDir()
	var src strings.Builder
	src.WriteString("package p\n")
	for _, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		src.WriteString("\nfunc " + name + "() {}\n")
	}
	writeFile(t, root, "a.go", src.String())

	emb := &mockEmbedder{err: embedder.ErrWorkerSpawn}
	store := newTestStore(t)
	idx := New(root, store, WithEmbedder(emb), WithLogger(quietLogger()),
		WithConfig(Config{EmbedWorkers: 1, EmbedBatch: 2}))

	stats, err := idx.IndexProject(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.batches)
	assert.Equal(t, 0, emb.calls)
	assert.Equal(t, 8, stats.RecordsNoVector)
}

func TestIndexProject_EmbedsInBatches(t *testing.T) {
	root := t.TempDir()
	var src strings.Builder
	src.WriteString("package p\n")
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		src.WriteString("\nfunc " + name + "() {}\n")
	}
	writeFile(t, root, "a.go", src.String())

	emb := &mockEmbedder{}
	store := newTestStore(t)
	idx := New(root, store, WithEmbedder(emb), WithLogger(quietLogger()),
		WithConfig(Config{EmbedBatch: 2}))

	stats, err := idx.IndexProject(context.Background(), false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.RecordsEmbedded, 5)
	assert.Equal(t, 0, stats.RecordsNoVector)
	assert.Equal(t, (stats.RecordsEmbedded+1)/2, emb.batches)
	assert.Equal(t, 0, emb.calls, "no single requests when every batch succeeds")
}

func TestIndexProject_Locks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package p\n")
	store := newTestStore(t)

	t.Run("in process", func(t *testing.T) {
		idx := New(root, store, WithLogger(quietLogger()))
		require.True(t, idx.lock.TryAcquire())
		defer idx.lock.Release()

		_, err := idx.IndexProject(context.Background(), false)
		assert.ErrorIs(t, err, ErrIndexInProgress)
	})

	t.Run("cross process", func(t *testing.T) {
		lockPath := filepath.Join(t.TempDir(), "state", "index.lock")
		held := NewFileLock(lockPath)
		ok, err := held.TryLock()
		require.NoError(t, err)
		require.True(t, ok)

		idx := New(root, store, WithLogger(quietLogger()), WithConfig(Config{LockPath: lockPath}))
		_, err = idx.IndexProject(context.Background(), false)
		assert.ErrorIs(t, err, ErrIndexInProgress)

		require.NoError(t, held.Unlock())
		_, err = idx.IndexProject(context.Background(), false)
		assert.NoError(t, err)
	})
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestParseGoMod(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/proj\n\ngo 1.25.4\n\nrequire golang.org/x/sync v0.17.0\n")

	info, err := parseGoMod(filepath.Join(dir, "go.mod"))
	require.NoError(t, err)
	assert.Equal(t, "example.com/proj", info.Module)
	assert.Equal(t, "1.25.4", info.GoVersion)

	_, err = parseGoMod(filepath.Join(dir, "missing.mod"))
	assert.Error(t, err)
}

func TestDiffSummary(t *testing.T) {
	assert.Empty(t, diffSummary(nil))
	assert.Equal(t, "2 files changed: a.go, b.go", diffSummary([]string{"a.go", "b.go"}))

	many := make([]string, maxSummaryFiles+5)
	for i := range many {
		many[i] = "f.go"
	}
	assert.True(t, strings.HasSuffix(diffSummary(many), ", ..."))
}
