package postgres_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/storage/postgres"
	"github.com/oceanbase/conceptgraph-go/pkg/storage/storagetest"
)

func setupPostgresTest(t *testing.T) *postgres.Client {
	t.Helper()
	// Load .env file from project root
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := 5432
	if s := os.Getenv("POSTGRES_PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %s", s)
		}
		port = p
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	dbName := os.Getenv("POSTGRES_DATABASE")
	if dbName == "" {
		dbName = "conceptgraph_test"
	}

	prefix := fmt.Sprintf("cgtest_%d", time.Now().UnixNano())
	client, err := postgres.NewClient(&postgres.Config{
		Host:               host,
		Port:               port,
		User:               user,
		Password:           password,
		DBName:             dbName,
		TablePrefix:        prefix,
		EmbeddingModelDims: 2,
	})
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: %v", err)
	}
	t.Cleanup(func() {
		db := client.DB()
		_, _ = db.ExecContext(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s_associations, %s_concepts", prefix, prefix))
		_ = client.Close()
	})
	return client
}

func TestPostgresClient_Persister(t *testing.T) {
	storagetest.Run(t, setupPostgresTest(t))
}

func TestPostgresClient_RequiresDims(t *testing.T) {
	_, err := postgres.NewClient(&postgres.Config{Host: "127.0.0.1", Port: 5432})
	require.Error(t, err)
}
