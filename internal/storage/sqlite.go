package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrVectorSearchUnavailable is returned when the database cannot compute
	// vector distances
	ErrVectorSearchUnavailable = errors.New("vector search unavailable")
)

const lastIndexedCommitKey = "last_indexed_commit"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: one writer, and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Graph operations

// ReplaceGraph implements GraphStore.
func (s *SQLiteStorage) ReplaceGraph(ctx context.Context, g *types.Graph) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM edges"); err != nil {
			return fmt.Errorf("failed to clear edges: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM nodes"); err != nil {
			return fmt.Errorf("failed to clear nodes: %w", err)
		}
		return s.writeGraphWithQuerier(ctx, q, g)
	})
}

// MergeGraph implements GraphStore.
func (s *SQLiteStorage) MergeGraph(ctx context.Context, g *types.Graph, filePaths []string) error {
	return s.withTx(ctx, func(q querier) error {
		for _, path := range filePaths {
			if err := s.deleteFileNodesWithQuerier(ctx, q, path); err != nil {
				return err
			}
		}
		return s.writeGraphWithQuerier(ctx, q, g)
	})
}

// deleteFileNodesWithQuerier removes the nodes of one file and every edge
// that touches them.
func (s *SQLiteStorage) deleteFileNodesWithQuerier(ctx context.Context, q querier, path string) error {
	const edgeQuery = `
		DELETE FROM edges
		WHERE source_id IN (SELECT id FROM nodes WHERE file_path = ?)
		   OR target_id IN (SELECT id FROM nodes WHERE file_path = ?)
	`
	if _, err := q.ExecContext(ctx, edgeQuery, path, path); err != nil {
		return fmt.Errorf("failed to delete edges for %s: %w", path, err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM nodes WHERE file_path = ?", path); err != nil {
		return fmt.Errorf("failed to delete nodes for %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStorage) writeGraphWithQuerier(ctx context.Context, q querier, g *types.Graph) error {
	if g == nil {
		return nil
	}

	now := time.Now()
	for _, n := range g.Nodes {
		props, err := types.MarshalNode(n)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO nodes (id, type, file_path, properties, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				file_path = excluded.file_path,
				properties = excluded.properties,
				updated_at = excluded.updated_at
		`, n.NodeID(), string(n.NodeType()), nullString(types.NodeFilePath(n)), string(props), now)
		if err != nil {
			return fmt.Errorf("failed to write node %s: %w", n.NodeID(), err)
		}
	}

	for _, e := range g.Edges {
		var props sql.NullString
		if len(e.Properties) > 0 {
			data, err := json.Marshal(e.Properties)
			if err != nil {
				return fmt.Errorf("failed to encode edge %s: %w", e.Key(), err)
			}
			props = sql.NullString{String: string(data), Valid: true}
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO edges (source_id, target_id, type, properties)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(source_id, type, target_id) DO UPDATE SET properties = excluded.properties
		`, e.SourceID, e.TargetID, string(e.Type), props)
		if err != nil {
			return fmt.Errorf("failed to write edge %s: %w", e.Key(), err)
		}
	}
	return nil
}

// LoadNodes implements GraphStore. Nodes are returned ordered by id.
func (s *SQLiteStorage) LoadNodes(ctx context.Context) ([]types.Node, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, type, properties FROM nodes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []types.Node
	for rows.Next() {
		var id, typ, props string
		if err := rows.Scan(&id, &typ, &props); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n, err := types.DecodeNode(types.NodeType(typ), id, []byte(props))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// LoadEdges implements GraphStore. Edges are returned ordered by key.
func (s *SQLiteStorage) LoadEdges(ctx context.Context) ([]types.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, type, properties FROM edges
		ORDER BY source_id, type, target_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.Edge
	for rows.Next() {
		var e types.Edge
		var typ string
		var props sql.NullString
		if err := rows.Scan(&e.SourceID, &e.TargetID, &typ, &props); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Type = types.EdgeType(typ)
		if props.Valid && props.String != "" {
			if err := json.Unmarshal([]byte(props.String), &e.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode edge %s: %w", e.Key(), err)
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Indexing state

// GetLastIndexedCommit implements CommitHashStore.
func (s *SQLiteStorage) GetLastIndexedCommit(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM indexing_state WHERE key = ?", lastIndexedCommitKey).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last indexed commit: %w", err)
	}
	return hash, nil
}

// SetLastIndexedCommit implements CommitHashStore.
func (s *SQLiteStorage) SetLastIndexedCommit(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, lastIndexedCommitKey, hash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write last indexed commit: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// placeholders returns "?,?,..." with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
