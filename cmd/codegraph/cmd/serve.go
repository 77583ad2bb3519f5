package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the project over MCP on stdio",
		Long: `Start an MCP server for the project root on stdin/stdout.

The graph and embeddings are read from the project's data directory.
Call the index_codebase tool, or run 'codegraph index', to build them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv, err := mcp.NewServer(mcp.Deps{
				Store:     a.store,
				Indexer:   a.indexer,
				Searcher:  a.searcher,
				Graph:     a.graph,
				Explainer: a.explainer,
				Logger:    a.logger,
				Version:   Version,
			})
			if err != nil {
				return err
			}

			if a.worker != nil {
				// Load the model before the first query arrives.
				go func() {
					if err := a.worker.Start(ctx); err != nil {
						a.logger.Warn("worker.warmup", "err", err)
					}
				}()
			}

			a.logger.Info("mcp.serve", "root", a.root, "version", Version)
			err = srv.Serve(ctx, os.Stdin, os.Stdout)
			a.logger.Info("mcp.stopped")
			return err
		},
	}
}
