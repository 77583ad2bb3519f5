// Package cmd provides the CLI commands for codegraph.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X .../cmd.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	root     string
	logLevel string
}

// NewRootCmd creates the root command for the codegraph CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "codegraph",
		Short: "Code knowledge graph and semantic search over MCP",
		Long: `codegraph indexes a repository into a graph of files, functions,
calls, imports and commits, embeds every node for semantic search,
and serves both to AI coding assistants over the Model Context Protocol.

Run 'codegraph serve' from an MCP client configuration, or
'codegraph index' to build the index ahead of time.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("codegraph version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.root, "root", ".", "Project root to index and serve")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newExplainCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
