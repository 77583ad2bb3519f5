package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph-mcp/internal/chunker"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/extractor"
	"github.com/dshills/codegraph-mcp/internal/parser"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/vcs"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// ErrIndexInProgress is returned when another run holds the index lock.
var ErrIndexInProgress = errors.New("indexing already in progress")

const (
	// DefaultEmbedWorkers bounds concurrent embedding batches
	DefaultEmbedWorkers = 4

	// DefaultEmbedBatchSize is the number of records per embedding batch
	DefaultEmbedBatchSize = 16

	// DefaultCommitLimit caps how much history becomes commit nodes
	DefaultCommitLimit = 500

	maxSummaryFiles = 20
)

// History lists commits. Source controls that implement it contribute
// commit nodes to the graph.
type History interface {
	Commits(ctx context.Context, limit int) ([]vcs.Commit, error)
}

// Indexer coordinates the indexing pipeline:
// plan -> discover -> extract -> persist -> embed
type Indexer struct {
	root     string
	storage  storage.Storage
	embedder embedder.Embedder
	scm      SourceControl
	chunker  *chunker.Chunker
	config   Config
	logger   *slog.Logger
	lock     IndexLock
}

// Config contains configuration for the indexer
type Config struct {
	Workers       int      // Parse workers (default: runtime.NumCPU())
	EmbedWorkers  int      // Concurrent embedding batches (default: 4)
	EmbedBatch    int      // Records per embedding batch (default: 16)
	IncludeVendor bool     // Whether to index vendor and node_modules
	Exclude       []string // Extra name globs or directory prefixes to skip
	CommitLimit   int      // Commits turned into nodes on full runs (default: 500)
	MaxTokens     int      // Token budget per embedding record
	LockPath      string   // Cross-process lock file, "" disables it
	Retry         embedder.RetryConfig
}

// Statistics contains statistics about an index run
type Statistics struct {
	Incremental     bool
	CommitHash      string
	FilesDiscovered int
	FilesIndexed    int
	FilesDeleted    int
	NodesWritten    int
	EdgesWritten    int
	CommitsIndexed  int
	RecordsEmbedded int
	RecordsFailed   int
	RecordsNoVector int
	Duration        time.Duration
}

// Option configures an Indexer
type Option func(*Indexer)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(idx *Indexer) { idx.config = cfg }
}

// WithEmbedder sets the embedder used for records. Without one, records are
// stored without vectors.
func WithEmbedder(e embedder.Embedder) Option {
	return func(idx *Indexer) { idx.embedder = e }
}

// WithSourceControl enables incremental runs and commit history.
func WithSourceControl(scm SourceControl) Option {
	return func(idx *Indexer) { idx.scm = scm }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// New creates an Indexer for the project rooted at root.
func New(root string, store storage.Storage, opts ...Option) *Indexer {
	idx := &Indexer{
		root:    filepath.Clean(root),
		storage: store,
		logger:  slog.Default(),
		config:  Config{Retry: embedder.DefaultRetryConfig()},
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.config.Workers <= 0 {
		idx.config.Workers = runtime.NumCPU()
	}
	if idx.config.EmbedWorkers <= 0 {
		idx.config.EmbedWorkers = DefaultEmbedWorkers
	}
	if idx.config.EmbedBatch <= 0 {
		idx.config.EmbedBatch = DefaultEmbedBatchSize
	}
	if idx.config.CommitLimit <= 0 {
		idx.config.CommitLimit = DefaultCommitLimit
	}
	if idx.config.Retry.MaxRetries <= 0 {
		idx.config.Retry = embedder.DefaultRetryConfig()
	}
	idx.chunker = chunker.New(chunker.WithMaxTokens(idx.config.MaxTokens))
	return idx
}

// Root returns the project root.
func (idx *Indexer) Root() string {
	return idx.root
}

// IndexProject runs one full or incremental pass over the project and
// records the current revision once everything is persisted.
func (idx *Indexer) IndexProject(ctx context.Context, forceFull bool) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	if idx.config.LockPath != "" {
		fl := NewFileLock(idx.config.LockPath)
		acquired, err := fl.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrIndexInProgress
		}
		defer func() { _ = fl.Unlock() }()
	}

	startTime := time.Now()

	plan, err := idx.PlanStrategy(ctx, forceFull)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{Incremental: plan.IsIncremental, CommitHash: plan.CurrentCommitHash}
	filter := newFileFilter(idx.root, idx.config.IncludeVendor, idx.config.Exclude)

	var files []string
	if plan.IsIncremental {
		files = resolveChanged(idx.root, plan.ChangedFiles, filter)
	} else {
		files, err = discoverFiles(idx.root, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to discover files: %w", err)
		}
	}
	stats.FilesDiscovered = len(files)

	fileNodes, fileIDs, err := idx.buildFileNodes(files)
	if err != nil {
		return nil, err
	}
	stats.FilesIndexed = len(fileNodes)

	opts := []extractor.Option{
		extractor.WithWorkers(idx.config.Workers),
		extractor.WithModulePath(idx.modulePath()),
		extractor.WithLogger(idx.logger),
	}
	var stale []string
	if plan.IsIncremental {
		stale = staleFiles(plan, fileNodes)
		known, err := idx.knownFunctions(ctx, stale)
		if err != nil {
			return nil, err
		}
		opts = append(opts, extractor.WithKnownFunctions(known))
	}
	ex := extractor.New(idx.root, opts...)
	graph, err := ex.Extract(ctx, files, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to extract graph: %w", err)
	}
	for _, fn := range fileNodes {
		graph.Nodes = append(graph.Nodes, fn)
	}

	if plan.CurrentCommitHash != "" {
		n, err := idx.addHistory(ctx, graph, fileNodes, plan.IsIncremental)
		if err != nil {
			return nil, err
		}
		stats.CommitsIndexed = n
	}
	graph.Sort()

	if err := idx.persistGraph(ctx, plan, graph, stale, stats); err != nil {
		return nil, err
	}
	stats.NodesWritten = len(graph.Nodes)
	stats.EdgesWritten = len(graph.Edges)

	if err := idx.embedRecords(ctx, idx.chunker.BuildRecords(graph), stats); err != nil {
		return nil, err
	}

	if plan.CurrentCommitHash != "" {
		if err := idx.storage.SetLastIndexedCommit(ctx, plan.CurrentCommitHash); err != nil {
			return nil, fmt.Errorf("failed to record indexed commit: %w", err)
		}
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("index.done",
		"incremental", stats.Incremental,
		"files", stats.FilesIndexed,
		"nodes", stats.NodesWritten,
		"edges", stats.EdgesWritten,
		"embedded", stats.RecordsEmbedded,
		"failed", stats.RecordsFailed,
		"duration", stats.Duration)
	return stats, nil
}

// persistGraph replaces the stored graph on full runs. Incremental runs
// drop the rows of the stale files before merging.
func (idx *Indexer) persistGraph(ctx context.Context, plan *Plan, graph *types.Graph, stale []string, stats *Statistics) error {
	if !plan.IsIncremental {
		if err := idx.storage.ReplaceGraph(ctx, graph); err != nil {
			return fmt.Errorf("failed to replace graph: %w", err)
		}
		if err := idx.storage.ClearEmbeddings(ctx); err != nil {
			return err
		}
		return nil
	}

	stats.FilesDeleted = len(plan.DeletedFiles)
	if err := idx.storage.MergeGraph(ctx, graph, stale); err != nil {
		return fmt.Errorf("failed to merge graph: %w", err)
	}
	if err := idx.storage.DeleteEmbeddingsByFile(ctx, stale); err != nil {
		return err
	}
	return nil
}

// staleFiles lists the paths whose stored rows an incremental run replaces:
// changed, deleted and re-extracted files.
func staleFiles(plan *Plan, fileNodes []*types.FileNode) []string {
	stale := make([]string, 0, len(plan.ChangedFiles)+len(plan.DeletedFiles))
	seen := make(map[string]bool)
	for _, rel := range append(append([]string{}, plan.ChangedFiles...), plan.DeletedFiles...) {
		rel = filepath.ToSlash(rel)
		if !seen[rel] {
			seen[rel] = true
			stale = append(stale, rel)
		}
	}
	for _, fn := range fileNodes {
		if !seen[fn.Path] {
			seen[fn.Path] = true
			stale = append(stale, fn.Path)
		}
	}
	return stale
}

// knownFunctions loads the stored functions of every file outside stale.
func (idx *Indexer) knownFunctions(ctx context.Context, stale []string) ([]*types.FunctionNode, error) {
	skip := make(map[string]bool, len(stale))
	for _, p := range stale {
		skip[p] = true
	}
	nodes, err := idx.storage.LoadNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored functions: %w", err)
	}
	var known []*types.FunctionNode
	for _, n := range nodes {
		if fn, ok := n.(*types.FunctionNode); ok && !skip[fn.FilePath] {
			known = append(known, fn)
		}
	}
	return known, nil
}

// addHistory appends commit nodes with MODIFIED and EVOLVED_BY edges for the
// indexed files. A failure listing commits fails the run.
func (idx *Indexer) addHistory(ctx context.Context, graph *types.Graph, fileNodes []*types.FileNode, incremental bool) (int, error) {
	history, ok := idx.scm.(History)
	if !ok {
		return 0, nil
	}
	commits, err := history.Commits(ctx, idx.config.CommitLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list commits: %w", err)
	}

	tracked := make(map[string]string, len(fileNodes))
	for _, fn := range fileNodes {
		tracked[fn.Path] = fn.ID
	}

	count := 0
	for _, c := range commits {
		commitID := types.CommitID(c.Hash)
		var edges []types.Edge
		for _, f := range c.Files {
			fileID, ok := tracked[filepath.ToSlash(f)]
			if !ok {
				continue
			}
			edges = append(edges,
				types.Edge{SourceID: commitID, TargetID: fileID, Type: types.EdgeModified},
				types.Edge{SourceID: fileID, TargetID: commitID, Type: types.EdgeEvolvedBy})
		}
		// Incremental runs only refresh history touching re-extracted files.
		if incremental && len(edges) == 0 {
			continue
		}
		graph.Nodes = append(graph.Nodes, &types.CommitNode{
			ID:          commitID,
			Hash:        c.Hash,
			Author:      c.Author,
			Date:        c.Date,
			Message:     c.Message,
			DiffSummary: diffSummary(c.Files),
		})
		graph.Edges = append(graph.Edges, edges...)
		count++
	}
	return count, nil
}

// embedRecords embeds records in batches with bounded concurrency and writes
// them. A batch that fails is retried record by record, and a record whose
// embedding fails is stored without a vector.
func (idx *Indexer) embedRecords(ctx context.Context, records []types.EmbeddingRecord, stats *Statistics) error {
	if idx.embedder != nil {
		var (
			embedded    atomic.Int32
			failed      atomic.Int32
			unavailable atomic.Bool
		)
		markUnavailable := func(err error) {
			if unavailable.CompareAndSwap(false, true) {
				idx.logger.Warn("index.embed.unavailable", "error", err)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(idx.config.EmbedWorkers)
		for start := 0; start < len(records); start += idx.config.EmbedBatch {
			batch := records[start:min(start+idx.config.EmbedBatch, len(records))]
			g.Go(func() error {
				if unavailable.Load() {
					return nil
				}
				texts := make([]string, len(batch))
				for i := range batch {
					texts[i] = batch[i].SourceText
				}
				resp, err := embedder.BatchWithRetry(gctx, idx.embedder, idx.config.Retry, embedder.BatchEmbeddingRequest{Texts: texts})
				if err == nil && len(resp.Embeddings) != len(batch) {
					err = fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(batch))
				}
				if err == nil {
					for i, emb := range resp.Embeddings {
						batch[i].Embedding = emb.Vector
					}
					embedded.Add(int32(len(batch)))
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if isEmbedderUnavailable(err) {
					failed.Add(int32(len(batch)))
					markUnavailable(err)
					return nil
				}
				idx.logger.Debug("index.embed.batch.fail", "size", len(batch), "error", err)

				for i := range batch {
					if unavailable.Load() {
						return nil
					}
					emb, err := embedder.EmbedWithRetry(gctx, idx.embedder, idx.config.Retry, embedder.EmbeddingRequest{
						Text: batch[i].SourceText,
					})
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						failed.Add(1)
						if isEmbedderUnavailable(err) {
							markUnavailable(err)
						} else {
							idx.logger.Debug("index.embed.fail", "node", batch[i].NodeID, "error", err)
						}
						continue
					}
					batch[i].Embedding = emb.Vector
					embedded.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to embed records: %w", err)
		}
		stats.RecordsEmbedded = int(embedded.Load())
		stats.RecordsFailed = int(failed.Load())
	}
	stats.RecordsNoVector = len(records) - stats.RecordsEmbedded

	for i := range records {
		if err := idx.storage.UpsertEmbedding(ctx, &records[i]); err != nil {
			return fmt.Errorf("failed to store record %s: %w", records[i].NodeID, err)
		}
	}
	return nil
}

// isEmbedderUnavailable reports errors that will repeat for every record.
func isEmbedderUnavailable(err error) bool {
	return errors.Is(err, embedder.ErrWorkerSpawn) ||
		errors.Is(err, embedder.ErrModelLoad) ||
		errors.Is(err, embedder.ErrWorkerClosed)
}

func (idx *Indexer) modulePath() string {
	info, err := parseGoMod(filepath.Join(idx.root, "go.mod"))
	if err != nil {
		return ""
	}
	return info.Module
}

// buildFileNodes hashes every file and returns the nodes with the absolute
// path to node id map the extractor expects. Unreadable files are skipped.
func (idx *Indexer) buildFileNodes(files []string) ([]*types.FileNode, map[string]string, error) {
	nodes := make([]*types.FileNode, 0, len(files))
	ids := make(map[string]string, len(files))
	for _, abs := range files {
		rel, err := filepath.Rel(idx.root, abs)
		if err != nil {
			return nil, nil, err
		}
		rel = filepath.ToSlash(rel)

		hash, size, err := computeFileHash(abs)
		if err != nil {
			idx.logger.Warn("index.file.skip", "path", rel, "error", err)
			continue
		}
		fn := &types.FileNode{
			ID:          types.FileID(rel),
			Path:        rel,
			Language:    parser.DetectLanguage(rel),
			Size:        size,
			ContentHash: hash,
			Category:    parser.Categorize(rel),
		}
		nodes = append(nodes, fn)
		ids[abs] = fn.ID
	}
	return nodes, ids, nil
}

// computeFileHash computes the SHA-256 hash of a file
func computeFileHash(filePath string) (string, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return "", 0, err
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), info.Size(), nil
}

func diffSummary(files []string) string {
	if len(files) == 0 {
		return ""
	}
	shown := files
	if len(shown) > maxSummaryFiles {
		shown = shown[:maxSummaryFiles]
	}
	summary := fmt.Sprintf("%d files changed: %s", len(files), strings.Join(shown, ", "))
	if len(files) > len(shown) {
		summary += ", ..."
	}
	return summary
}

// goModInfo contains parsed go.mod information
type goModInfo struct {
	Module    string
	GoVersion string
}

// parseGoMod extracts basic info from go.mod file
func parseGoMod(goModPath string) (*goModInfo, error) {
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, err
	}

	info := &goModInfo{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			info.Module = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module")), `"`)
		} else if strings.HasPrefix(line, "go ") {
			info.GoVersion = strings.TrimSpace(strings.TrimPrefix(line, "go"))
		}
	}
	return info, nil
}
