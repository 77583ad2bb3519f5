// Package storage provides SQLite-based persistence for the code graph and
// its embedding rows.
//
// # Database Schema
//
// Tables:
//   - nodes: one row per graph node (id, type tag, file path, JSON properties)
//   - edges: directed typed relations keyed by (source, type, target)
//   - embeddings: searchable rows with a nullable little-endian float32 vector
//   - indexing_state: scalar state such as the last indexed commit
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(".codegraph/graph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.ReplaceGraph(ctx, graph); err != nil {
//	    return err
//	}
//	nodes, _ := db.LoadNodes(ctx)
//	edges, _ := db.LoadEdges(ctx)
//
// # Incremental Updates
//
// MergeGraph drops the nodes of the given files and every edge touching them
// before writing the new subgraph:
//
//	err := db.MergeGraph(ctx, partial, []string{"internal/a.go"})
//
// # Vector Search
//
// Two builds are supported:
//   - default (modernc.org/sqlite, pure Go): distances are computed in Go
//   - sqlite_vec tag (github.com/mattn/go-sqlite3, CGO): distances are
//     computed in SQL by vec_distance_cosine, a Go function the driver
//     registers on every connection
//
// Both builds return the same ordering. If the SQL function is missing at
// runtime SearchVector returns ErrVectorSearchUnavailable, and callers fall
// back to SearchText.
package storage
