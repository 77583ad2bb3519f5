package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		mode      string
		limit     int
		nodeTypes []string
		filePath  string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if limit <= 0 {
				limit = a.cfg.Search.DefaultLimit
			}
			if limit > searcher.MaxLimit {
				return fmt.Errorf("limit must be at most %d", searcher.MaxLimit)
			}
			typed := make([]types.NodeType, 0, len(nodeTypes))
			for _, t := range nodeTypes {
				nt := types.NodeType(t)
				if !nt.Valid() {
					return fmt.Errorf("%w: %s", types.ErrUnknownNodeType, t)
				}
				typed = append(typed, nt)
			}

			searchOpts := searcher.SearchOptions{
				Limit:         limit,
				NodeTypes:     typed,
				MinSimilarity: a.cfg.Search.MinSimilarity,
			}
			if filePath != "" {
				searchOpts.FilePaths = []string{filePath}
			}
			meta := &storage.MetadataFilters{NodeTypes: typed, FilePath: filePath, TextContains: query}

			ctx := cmd.Context()
			var resp *searcher.SearchResponse
			switch mode {
			case "semantic":
				resp, err = a.searcher.SemanticSearch(ctx, query, searchOpts)
			case "metadata":
				resp, err = a.searcher.MetadataSearch(ctx, meta, limit)
			case "hybrid":
				resp, err = a.searcher.HybridSearch(ctx, query, meta, searchOpts)
			default:
				return fmt.Errorf("unknown mode %q (semantic, metadata, hybrid)", mode)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for _, r := range resp.Results {
				fmt.Fprintf(out, "%2d. %.3f  %-8s %s\n", r.Rank, r.Similarity, r.NodeType, r.NodeID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "hybrid", "Search mode: semantic, metadata or hybrid")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().StringSliceVar(&nodeTypes, "type", nil, "Restrict to node types, e.g. function,test")
	cmd.Flags().StringVar(&filePath, "file", "", "Restrict to paths containing this substring")
	return cmd
}
