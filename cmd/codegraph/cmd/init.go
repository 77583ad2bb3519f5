package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/config"
)

// mcpServerConfig is one entry of .mcp.json.
type mcpServerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force bool
		noMCP bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration for the project",
		Long: `Write .codegraph.yaml with the default settings to the project root
and register the server in .mcp.json.

Set worker.command in the generated file to enable embeddings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := filepath.Abs(opts.root)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			cfgPath := filepath.Join(root, config.FileName)
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfgPath)
			}
			if err := config.NewConfig().WriteYAML(cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %s\n", cfgPath)

			if noMCP {
				return nil
			}
			mcpPath := filepath.Join(root, ".mcp.json")
			if err := registerMCPServer(mcpPath, root); err != nil {
				return err
			}
			fmt.Fprintf(out, "Registered codegraph in %s\n", mcpPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .codegraph.yaml")
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "Skip writing .mcp.json")
	return cmd
}

// registerMCPServer adds or replaces the codegraph entry in the .mcp.json
// at path, keeping any other servers.
func registerMCPServer(path, root string) error {
	doc := map[string]interface{}{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	servers, _ := doc["mcpServers"].(map[string]interface{})
	if servers == nil {
		servers = map[string]interface{}{}
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "codegraph"
	}
	servers["codegraph"] = mcpServerConfig{
		Command: exe,
		Args:    []string{"serve", "--root", root},
	}
	doc["mcpServers"] = servers

	data, err = json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
