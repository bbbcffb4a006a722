package oceanbase_test

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

	"github.com/oceanbase/conceptgraph-go/pkg/storage/oceanbase"
	"github.com/oceanbase/conceptgraph-go/pkg/storage/storagetest"
)

func setupOceanBaseTest(t *testing.T) *oceanbase.Client {
	t.Helper()
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	host := os.Getenv("OCEANBASE_HOST")
	if host == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_HOST not set")
	}
	port := 2881
	if s := os.Getenv("OCEANBASE_PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			t.Skipf("Skipping OceanBase test: invalid OCEANBASE_PORT: %s", s)
		}
		port = p
	}
	user := os.Getenv("OCEANBASE_USER")
	if user == "" {
		user = "root@test"
	}
	dbName := os.Getenv("OCEANBASE_DATABASE")
	if dbName == "" {
		dbName = "conceptgraph_test"
	}

	prefix := fmt.Sprintf("cgtest_%d", time.Now().UnixNano())
	client, err := oceanbase.NewClient(&oceanbase.Config{
		Host:               host,
		Port:               port,
		User:               user,
		Password:           os.Getenv("OCEANBASE_PASSWORD"),
		DBName:             dbName,
		TablePrefix:        prefix,
		EmbeddingModelDims: 2,
	})
	if err != nil {
		t.Skipf("Skipping OceanBase test: %v", err)
	}
	t.Cleanup(func() {
		db := client.DB()
		_, _ = db.ExecContext(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s_associations, %s_concepts", prefix, prefix))
		_ = client.Close()
	})
	return client
}

func TestOceanBaseClient_Persister(t *testing.T) {
	storagetest.Run(t, setupOceanBaseTest(t))
}

func TestOceanBaseClient_RequiresDims(t *testing.T) {
	_, err := oceanbase.NewClient(&oceanbase.Config{Host: "127.0.0.1", Port: 2881})
	require.Error(t, err)
}
