//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./cmd/codegraph
//
// Uses github.com/mattn/go-sqlite3. Every connection gets a
// vec_distance_cosine SQL function, so nearest-neighbour queries rank rows
// inside SQLite instead of loading every vector into Go.

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3_codegraph"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("vec_distance_cosine", vecDistanceCosine, true)
		},
	})
}

// vecDistanceCosine is 1 - cosine similarity of two stored vector blobs.
func vecDistanceCosine(a, b []byte) float64 {
	return 1 - cosineSimilarity(deserializeVector(a), deserializeVector(b))
}
