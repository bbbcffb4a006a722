// Package postgres provides a PostgreSQL persister for the concept graph.
//
// Embeddings are stored in a pgvector column so that the graph can also be
// inspected with vector queries from outside the process.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// Client is a PostgreSQL + pgvector persister.
type Client struct {
	*storage.SQLPersister
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	SSLMode            string
	TablePrefix        string
	EmbeddingModelDims int
	Timeout            time.Duration
}

// NewClient creates a new PostgreSQL persister. EmbeddingModelDims is
// required because pgvector columns have a fixed dimension.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("NewPostgresClient: config is required")
	}
	if cfg.EmbeddingModelDims <= 0 {
		return nil, errors.New("NewPostgresClient: embedding dimensions are required")
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	p, err := storage.NewSQLPersister(context.Background(), db, newDialect(cfg.EmbeddingModelDims), cfg.TablePrefix, cfg.Timeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{SQLPersister: p}, nil
}

func newDialect(dims int) storage.Dialect {
	return storage.Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		Schema: []string{
			"CREATE EXTENSION IF NOT EXISTS vector",
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %%[1]s (
				id VARCHAR(64) PRIMARY KEY,
				content TEXT NOT NULL,
				strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
				access_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL,
				last_accessed_at TIMESTAMPTZ NOT NULL,
				embedding vector(%d)
			)`, dims),
			`CREATE TABLE IF NOT EXISTS %[2]s (
				source_id VARCHAR(64) NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
				target_id VARCHAR(64) NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
				type VARCHAR(32) NOT NULL,
				weight DOUBLE PRECISION NOT NULL,
				confidence DOUBLE PRECISION NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (source_id, target_id, type)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_%[2]s_target ON %[2]s(target_id)`,
			`CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s USING hnsw (embedding vector_cosine_ops)`,
		},
		UpsertConcept: `
			INSERT INTO %[1]s (id, content, strength, access_count, created_at, last_accessed_at, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				strength = EXCLUDED.strength,
				access_count = EXCLUDED.access_count,
				last_accessed_at = EXCLUDED.last_accessed_at,
				embedding = COALESCE(EXCLUDED.embedding, %[1]s.embedding)
		`,
		UpsertAssociation: `
			INSERT INTO %[2]s (source_id, target_id, type, weight, confidence, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (source_id, target_id, type) DO UPDATE SET
				weight = EXCLUDED.weight,
				confidence = EXCLUDED.confidence,
				updated_at = EXCLUDED.updated_at
		`,
		EncodeVector: func(v []float64) (interface{}, error) {
			if v == nil {
				return nil, nil
			}
			if len(v) != dims {
				return nil, fmt.Errorf("embedding has %d dimensions, column has %d", len(v), dims)
			}
			return vectorToString(v), nil
		},
		DecodeVector: parseVectorString,
	}
}

var _ storage.Persister = (*Client)(nil)
