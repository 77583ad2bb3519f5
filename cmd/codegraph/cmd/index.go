package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/indexer"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the code graph",
		Long: `Index the project root.

When the project is a git repository and a previous run recorded its
commit, only files changed since that commit are re-extracted. Use
--force to rebuild everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.indexer.IndexProject(ctx, force)
			if errors.Is(err, indexer.ErrIndexInProgress) {
				return fmt.Errorf("another index run holds %s", a.cfg.LockPath(a.root))
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			mode := "full"
			if stats.Incremental {
				mode = "incremental"
			}
			fmt.Fprintf(out, "Indexed %s (%s)\n", a.root, mode)
			if stats.CommitHash != "" {
				fmt.Fprintf(out, "  Commit:     %s\n", stats.CommitHash)
			}
			fmt.Fprintf(out, "  Files:      %d indexed, %d removed\n", stats.FilesIndexed, stats.FilesDeleted)
			fmt.Fprintf(out, "  Graph:      %d nodes, %d edges, %d commits\n", stats.NodesWritten, stats.EdgesWritten, stats.CommitsIndexed)
			fmt.Fprintf(out, "  Embeddings: %d embedded, %d failed, %d without vector\n",
				stats.RecordsEmbedded, stats.RecordsFailed, stats.RecordsNoVector)
			fmt.Fprintf(out, "  Duration:   %s\n", stats.Duration.Round(1e6))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-extract every file instead of only changed files")
	return cmd
}
