package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/core"
	"github.com/oceanbase/conceptgraph-go/pkg/embedder/embeddertest"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
)

func TestAsyncClient(t *testing.T) {
	ctx := context.Background()
	ac, err := core.NewAsyncClient(ctx, testConfig(),
		core.WithEmbedder(embeddertest.NewTermProvider(64)), core.WithLogger(logger.Nop()))
	require.NoError(t, err)

	first := ac.LearnAsync(ctx, "Dogs are mammals", core.WithRelationHint("Mammal"), core.WithSource("zoo.txt"))
	lr := <-first
	require.NoError(t, lr.Error)
	assert.Equal(t, graph.ConceptID("Dogs are mammals"), lr.Result.ConceptID)
	_, open := <-first
	assert.False(t, open)

	batch := ac.LearnBatchAsync(ctx, []graph.LearnItem{
		core.NewLearnItem("Mammals are animals", core.WithRelationHint("Animal"), core.WithChunkIndex(1)),
		{Content: "Cats are mammals", RelationHint: "Mammal"},
	})
	br := <-batch
	require.NoError(t, br.Error)
	assert.Nil(t, br.Result.Failure())
	ac.Wait()

	ask := <-ac.AskAsync(ctx, "What are dogs?", core.WithMaxPaths(5), core.WithMaxDepth(3))
	require.NoError(t, ask.Error)
	assert.True(t, hasPath(ask.Paths,
		graph.ConceptID("Dogs are mammals"), graph.ConceptID("Mammal"), graph.ConceptID("Animal")))

	search := <-ac.SearchAsync(ctx, "cats", core.WithLimit(1))
	require.NoError(t, search.Error)
	require.Len(t, search.Concepts, 1)
	assert.Equal(t, graph.ConceptID("Cats are mammals"), search.Concepts[0].Concept.ID)

	require.NoError(t, ac.Close())
	res := <-ac.LearnAsync(ctx, "after close")
	assert.ErrorIs(t, res.Error, core.ErrClosed)
}

func TestNewLearnItem(t *testing.T) {
	item := core.NewLearnItem("Rain makes grass wet",
		core.WithRelationHint("Weather"),
		core.WithSource("notes.md"),
		core.WithChunkIndex(3),
		core.WithEmbedding([]float64{1, 0}))

	assert.Equal(t, graph.LearnItem{
		Content:      "Rain makes grass wet",
		RelationHint: "Weather",
		Source:       "notes.md",
		ChunkIndex:   3,
		Embedding:    []float64{1, 0},
	}, item)
}
