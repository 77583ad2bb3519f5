//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build. Uses modernc.org/sqlite, so no C toolchain is needed:
//
//	CGO_ENABLED=0 go build ./cmd/codegraph
//
// Similarity is computed in Go over rows loaded from the embeddings table.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
