package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/explainer"
	"github.com/dshills/codegraph-mcp/internal/graph"
	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/logging"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/vcs"
)

// app holds the components wired for one project root.
type app struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	store     *storage.SQLiteStorage
	embedder  embedder.Embedder
	worker    *embedder.Worker // nil unless worker.mode is persistent
	explainer *explainer.Explainer
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	graph     *graph.Engine
}

// openApp loads configuration for opts.root and opens every component.
// Logs go to stderr; stdout belongs to the MCP transport.
func openApp(opts *rootOptions) (*app, error) {
	root, err := filepath.Abs(opts.root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger := logging.Setup(os.Stderr, logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := os.MkdirAll(cfg.DataPath(root), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath(root))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{root: root, cfg: cfg, logger: logger, store: store}

	var emb embedder.Embedder
	if cfg.Worker.Command != "" {
		workerCfg := embedder.WorkerConfig{
			Command:        cfg.Worker.Command,
			Args:           cfg.Worker.Args,
			Dir:            root,
			Model:          cfg.Worker.Model,
			StartupTimeout: cfg.Worker.StartupTimeout,
			RequestTimeout: cfg.Worker.RequestTimeout,
			CacheSize:      cfg.Worker.CacheSize,
			BatchWorkers:   cfg.Index.EmbedWorkers,
			Logger:         logger,
		}
		if cfg.Worker.Mode == "oneshot" {
			emb, err = embedder.NewOneShot(workerCfg)
		} else {
			a.worker, err = embedder.NewWorker(workerCfg)
			emb = a.worker
		}
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to configure embedding worker: %w", err)
		}
		a.embedder = emb
	} else {
		logger.Warn("embedding.disabled", "reason", "worker.command not set, search falls back to text matching")
	}

	if cfg.Explain.Command != "" {
		a.explainer, err = explainer.New(explainer.Config{
			Command:    cfg.Explain.Command,
			Args:       cfg.Explain.Args,
			Dir:        root,
			Model:      cfg.Explain.Model,
			Timeout:    cfg.Explain.Timeout,
			MaxResults: cfg.Explain.MaxResults,
			Logger:     logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to configure explainer: %w", err)
		}
	}

	a.indexer = indexer.New(root, store,
		indexer.WithConfig(indexer.Config{
			Workers:       cfg.Index.Workers,
			EmbedWorkers:  cfg.Index.EmbedWorkers,
			EmbedBatch:    cfg.Index.EmbedBatch,
			IncludeVendor: cfg.Index.IncludeVendor,
			Exclude:       cfg.Index.Exclude,
			CommitLimit:   cfg.Index.CommitLimit,
			MaxTokens:     cfg.Index.MaxTokens,
			LockPath:      cfg.LockPath(root),
			Retry:         embedder.DefaultRetryConfig(),
		}),
		indexer.WithEmbedder(emb),
		indexer.WithSourceControl(vcs.New(root, vcs.WithLogger(logger))),
		indexer.WithLogger(logger),
	)
	a.searcher = searcher.NewSearcher(store, emb, logger)
	a.graph = graph.NewEngine(store, logger)

	logger.Debug("app.open",
		"root", root,
		"database", cfg.DatabasePath(root),
		"driver", storage.DriverName,
		"build_mode", storage.BuildMode,
		"worker_mode", cfg.Worker.Mode,
		"explain", a.explainer != nil)
	return a, nil
}

// Close stops the embedder and closes the database.
func (a *app) Close() error {
	var firstErr error
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
