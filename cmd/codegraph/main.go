// Package main provides the entry point for the codegraph CLI.
package main

import (
	"os"

	"github.com/dshills/codegraph-mcp/cmd/codegraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
