// Package sqlite provides a SQLite persister for the concept graph.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-process deployments. Embeddings are stored as JSON strings in
// TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// Client implements storage.Persister using SQLite as the backend.
type Client struct {
	*storage.SQLPersister
}

// Config contains configuration for creating a SQLite persister.
type Config struct {
	// DBPath is the path to the SQLite database file. ":memory:" keeps the
	// database in memory for the lifetime of the client.
	DBPath string

	// TablePrefix prefixes the concept and association tables
	// (default: "conceptgraph").
	TablePrefix string

	// Timeout bounds each journal write (default: 10s).
	Timeout time.Duration
}

var dialect = storage.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 1.0,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL,
			embedding TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS %[2]s (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			weight REAL NOT NULL,
			confidence REAL NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (source_id, target_id, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_%[2]s_target ON %[2]s(target_id)`,
	},
	UpsertConcept: `
		INSERT INTO %[1]s (id, content, strength, access_count, created_at, last_accessed_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strength = excluded.strength,
			access_count = excluded.access_count,
			last_accessed_at = excluded.last_accessed_at,
			embedding = COALESCE(excluded.embedding, %[1]s.embedding)
	`,
	UpsertAssociation: `
		INSERT INTO %[2]s (source_id, target_id, type, weight, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			weight = excluded.weight,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`,
	EncodeVector: encodeVector,
	DecodeVector: decodeVector,
}

// NewClient creates a new SQLite persister.
//
// Parameters:
//   - cfg: Configuration containing database path and table prefix
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, fmt.Errorf("NewSQLiteClient: database path is required")
	}

	// Create parent directory if it doesn't exist
	dsn := cfg.DBPath
	if dsn != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
			}
		}
		dsn += "?_foreign_keys=1&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	// One connection keeps a ":memory:" database alive.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	p, err := storage.NewSQLPersister(context.Background(), db, dialect, cfg.TablePrefix, cfg.Timeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{SQLPersister: p}, nil
}

var _ storage.Persister = (*Client)(nil)
