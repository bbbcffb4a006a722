package intelligence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/intelligence"
)

func findEdge(edges []intelligence.Extracted, src, dst string, typ graph.AssociationType) *intelligence.Extracted {
	for i := range edges {
		if edges[i].SourceID == src && edges[i].TargetID == dst && edges[i].Type == typ {
			return &edges[i]
		}
	}
	return nil
}

func TestExtract_HintForcesHierarchicalEdge(t *testing.T) {
	ex := intelligence.NewExtractor(intelligence.DefaultExtractorConfig())
	edges := ex.Extract(intelligence.ExtractRequest{
		ConceptID:  "dogs",
		Content:    "Dogs are mammals",
		HintID:     "mammal",
		Candidates: []intelligence.Candidate{{ID: "mammal", Content: "Mammal"}},
	})

	hier := findEdge(edges, "dogs", "mammal", graph.Hierarchical)
	require.NotNil(t, hier)
	assert.Equal(t, 0.9, hier.Confidence)
	assert.Equal(t, 0.9, hier.Weight)

	sem := findEdge(edges, "dogs", "mammal", graph.Semantic)
	require.NotNil(t, sem)
	assert.Equal(t, 0.5, sem.Confidence)
}

func TestExtract_CopulaLinksSubjectToHint(t *testing.T) {
	ex := intelligence.NewExtractor(intelligence.DefaultExtractorConfig())
	edges := ex.Extract(intelligence.ExtractRequest{
		ConceptID: "mammals-animals",
		Content:   "Mammals are animals",
		HintID:    "animal",
		Candidates: []intelligence.Candidate{
			{ID: "dogs", Content: "Dogs are mammals"},
			{ID: "mammal", Content: "Mammal"},
			{ID: "animal", Content: "Animal"},
		},
	})

	up := findEdge(edges, "mammal", "animal", graph.Hierarchical)
	require.NotNil(t, up)
	assert.Equal(t, 0.85, up.Confidence)

	hint := findEdge(edges, "mammals-animals", "animal", graph.Hierarchical)
	require.NotNil(t, hint)
	assert.Equal(t, 0.9, hint.Confidence, "hint wins over the weaker copula edge")

	co := findEdge(edges, "mammals-animals", "dogs", graph.CoOccurrence)
	require.NotNil(t, co)
	assert.InDelta(t, 1.0/3.0, co.Confidence, 1e-9)
}

func TestExtract_NeverInventsConcepts(t *testing.T) {
	ex := intelligence.NewExtractor(intelligence.DefaultExtractorConfig())
	req := intelligence.ExtractRequest{
		ConceptID: "new",
		Content:   "Rain causes wet streets because clouds",
		HintID:    "not-a-candidate",
		Candidates: []intelligence.Candidate{
			{ID: "rain", Content: "Rain"},
			{ID: "streets", Content: "Streets are wet"},
			{ID: "new", Content: "Rain causes wet streets because clouds"},
		},
	}
	allowed := map[string]bool{"new": true, "rain": true, "streets": true}
	for _, e := range ex.Extract(req) {
		assert.True(t, allowed[e.SourceID], e.SourceID)
		assert.True(t, allowed[e.TargetID], e.TargetID)
		assert.NotEqual(t, e.SourceID, e.TargetID)
		assert.NotEqual(t, graph.Hierarchical, e.Type)
	}
}

func TestExtract_CueWords(t *testing.T) {
	ex := intelligence.NewExtractor(intelligence.DefaultExtractorConfig())
	cands := []intelligence.Candidate{{ID: "storm", Content: "A storm"}}

	edges := ex.Extract(intelligence.ExtractRequest{ConceptID: "new", Content: "Floods happen because of a storm", Candidates: cands})
	require.Len(t, edges, 1)
	assert.Equal(t, graph.Causal, edges[0].Type)
	assert.Equal(t, "storm", edges[0].SourceID)
	assert.Equal(t, "new", edges[0].TargetID)

	edges = ex.Extract(intelligence.ExtractRequest{ConceptID: "new", Content: "A storm leads to floods", Candidates: cands})
	require.Len(t, edges, 1)
	assert.Equal(t, graph.Causal, edges[0].Type)
	assert.Equal(t, "new", edges[0].SourceID)

	edges = ex.Extract(intelligence.ExtractRequest{ConceptID: "new", Content: "Calm returns after the storm", Candidates: cands})
	require.Len(t, edges, 1)
	assert.Equal(t, graph.Temporal, edges[0].Type)
	assert.Equal(t, "storm", edges[0].SourceID)
}

func TestExtract_LowOverlapDropped(t *testing.T) {
	ex := intelligence.NewExtractor(intelligence.DefaultExtractorConfig())
	edges := ex.Extract(intelligence.ExtractRequest{
		ConceptID:  "new",
		Content:    "Quantum chromodynamics",
		Candidates: []intelligence.Candidate{{ID: "x", Content: "Dogs bark"}},
	})
	assert.Empty(t, edges)
}

func TestExtract_SortedAndDeterministic(t *testing.T) {
	ex := intelligence.NewExtractor(intelligence.DefaultExtractorConfig())
	req := intelligence.ExtractRequest{
		ConceptID: "m",
		Content:   "cats and dogs and birds",
		Candidates: []intelligence.Candidate{
			{ID: "z", Content: "birds"},
			{ID: "a", Content: "cats"},
			{ID: "k", Content: "dogs and cats"},
		},
	}
	first := ex.Extract(req)
	require.Len(t, first, 3)
	assert.Equal(t, "a", first[0].TargetID)
	assert.Equal(t, "k", first[1].TargetID)
	assert.Equal(t, "z", first[2].TargetID)
	assert.Equal(t, first, ex.Extract(req))
}
