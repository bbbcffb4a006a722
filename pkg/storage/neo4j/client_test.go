package neo4j_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/conceptgraph-go/pkg/storage/neo4j"
	"github.com/oceanbase/conceptgraph-go/pkg/storage/storagetest"
)

func setupNeo4jTest(t *testing.T) *neo4j.Client {
	t.Helper()
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("Skipping Neo4j test: NEO4J_URI not set")
	}
	client, err := neo4j.NewClient(&neo4j.Config{
		URI:      uri,
		User:     os.Getenv("NEO4J_USER"),
		Password: os.Getenv("NEO4J_PASSWORD"),
		Database: os.Getenv("NEO4J_DATABASE"),
	})
	if err != nil {
		t.Skipf("Skipping Neo4j test: %v", err)
	}
	wipe := func() {
		concepts, _, err := client.Load(context.Background())
		if err != nil {
			return
		}
		ids := make([]string, 0, len(concepts))
		for _, c := range concepts {
			ids = append(ids, c.ID)
		}
		_ = client.ConceptsRemoved(ids)
	}
	wipe()
	t.Cleanup(func() {
		wipe()
		_ = client.Close()
	})
	return client
}

func TestNeo4jClient_Persister(t *testing.T) {
	storagetest.Run(t, setupNeo4jTest(t))
}

func TestNeo4jClient_RequiresURI(t *testing.T) {
	_, err := neo4j.NewClient(&neo4j.Config{})
	assert.Error(t, err)
}
