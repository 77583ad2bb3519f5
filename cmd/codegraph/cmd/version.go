package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/storage"
)

type versionInfo struct {
	Version         string `json:"version"`
	BuildTime       string `json:"build_time"`
	GoVersion       string `json:"go_version"`
	BuildMode       string `json:"build_mode"`
	SQLiteDriver    string `json:"sqlite_driver"`
	VectorExtension bool   `json:"vector_extension"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:         Version,
		BuildTime:       BuildTime,
		GoVersion:       runtime.Version(),
		BuildMode:       storage.BuildMode,
		SQLiteDriver:    storage.DriverName,
		VectorExtension: storage.VectorExtensionAvailable,
	}
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentVersion()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codegraph %s\n", info.Version)
			fmt.Fprintf(out, "Build Time:       %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:               %s\n", info.GoVersion)
			fmt.Fprintf(out, "Build Mode:       %s\n", info.BuildMode)
			fmt.Fprintf(out, "SQLite Driver:    %s\n", info.SQLiteDriver)
			fmt.Fprintf(out, "Vector Extension: %v\n", info.VectorExtension)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	return cmd
}
