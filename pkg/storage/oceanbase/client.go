// Package oceanbase provides an OceanBase persister for the concept graph.
//
// OceanBase speaks the MySQL protocol; embeddings are stored in its native
// VECTOR column type.
package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// Client is an OceanBase persister.
type Client struct {
	*storage.SQLPersister
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	TablePrefix        string
	EmbeddingModelDims int
	Timeout            time.Duration
}

// NewClient creates a new OceanBase persister.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("NewOceanBaseClient: config is required")
	}
	if cfg.EmbeddingModelDims <= 0 {
		return nil, errors.New("NewOceanBaseClient: embedding dimensions are required")
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
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
		Name:        "oceanbase",
		Placeholder: func(int) string { return "?" },
		Schema: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %%[1]s (
				id VARCHAR(64) PRIMARY KEY,
				content LONGTEXT NOT NULL,
				strength DOUBLE NOT NULL DEFAULT 1.0,
				access_count BIGINT NOT NULL DEFAULT 0,
				created_at DATETIME(6) NOT NULL,
				last_accessed_at DATETIME(6) NOT NULL,
				embedding VECTOR(%d)
			)`, dims),
			`CREATE TABLE IF NOT EXISTS %[2]s (
				source_id VARCHAR(64) NOT NULL,
				target_id VARCHAR(64) NOT NULL,
				type VARCHAR(32) NOT NULL,
				weight DOUBLE NOT NULL,
				confidence DOUBLE NOT NULL,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (source_id, target_id, type),
				INDEX idx_target (target_id)
			)`,
		},
		UpsertConcept: `
			INSERT INTO %[1]s (id, content, strength, access_count, created_at, last_accessed_at, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				strength = VALUES(strength),
				access_count = VALUES(access_count),
				last_accessed_at = VALUES(last_accessed_at),
				embedding = COALESCE(VALUES(embedding), embedding)
		`,
		UpsertAssociation: `
			INSERT INTO %[2]s (source_id, target_id, type, weight, confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				weight = VALUES(weight),
				confidence = VALUES(confidence),
				updated_at = VALUES(updated_at)
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
		DecodeVector: stringToVector,
	}
}

var _ storage.Persister = (*Client)(nil)
