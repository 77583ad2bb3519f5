package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/searcher"
)

func newExplainCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "explain <question>",
		Short: "Explain the code matching a question with the local model",
		Long: `Search the index for the question and hand the best matches to the
explanation process configured under explain.command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if a.explainer == nil {
				return fmt.Errorf("explain.command is not set in %s", config.FileName)
			}
			if limit <= 0 || limit > a.explainer.MaxResults() {
				limit = a.explainer.MaxResults()
			}

			ctx := cmd.Context()
			resp, err := a.searcher.HybridSearch(ctx, query, nil, searcher.SearchOptions{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No matching code.")
				return nil
			}

			exp, err := a.explainer.Explain(ctx, query, resp.Results)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, exp.Text)
			fmt.Fprintf(out, "\n(%s on %s, %s)\n", exp.Model, exp.Device, exp.Duration.Round(time.Millisecond))
			for _, id := range exp.Sources {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Search results handed to the model (default explain.max_results)")
	return cmd
}
