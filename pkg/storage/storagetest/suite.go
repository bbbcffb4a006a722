// Package storagetest holds the conformance checks every storage.Persister
// backend runs in its tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// Epoch is the fixed clock used by the suite. Backends round-trip it at
// microsecond precision.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// journaledStore returns a store whose mutations are written to p and a
// func reporting journal failures.
func journaledStore(t *testing.T, p storage.Persister) (*graph.ConceptStore, func() []error) {
	t.Helper()
	opts := graph.DefaultStoreOptions()
	opts.DuplicateThreshold = 0
	opts.Now = func() time.Time { return Epoch }
	s := graph.NewConceptStore(nil, opts)

	var errs []error
	s.SetJournal(p, func(op string, err error) {
		errs = append(errs, err)
	})
	return s, func() []error { return errs }
}

type fixture struct {
	dogs, mammal, animal string
}

func seed(t *testing.T, s *graph.ConceptStore) fixture {
	t.Helper()
	ctx := context.Background()

	dogs, _, err := s.UpsertConcept(ctx, "Dogs are mammals", []float64{0.6, 0.8})
	require.NoError(t, err)
	mammal, _, err := s.UpsertConcept(ctx, "Mammal", nil)
	require.NoError(t, err)
	animal, _, err := s.UpsertConcept(ctx, "Animal", []float64{1, 0})
	require.NoError(t, err)

	_, err = s.InsertAssociation(ctx, dogs, mammal, graph.Hierarchical, 0.9, 0.9)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, mammal, animal, graph.Hierarchical, 0.85, 0.85)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, dogs, animal, graph.CoOccurrence, 0.2, 0.5)
	require.NoError(t, err)
	return fixture{dogs: dogs, mammal: mammal, animal: animal}
}

// Run exercises p through a journaled ConceptStore: every mutation must be
// loadable again and restorable into a consistent store.
func Run(t *testing.T, p storage.Persister) {
	t.Run("JournalRoundTrip", func(t *testing.T) { testRoundTrip(t, p) })
	t.Run("UpsertOverwrites", func(t *testing.T) { testUpsertOverwrites(t, p) })
	t.Run("ConceptsRemoved", func(t *testing.T) { testConceptsRemoved(t, p) })
}

func testRoundTrip(t *testing.T, p storage.Persister) {
	ctx := context.Background()
	s, journalErrs := journaledStore(t, p)
	f := seed(t, s)
	require.Empty(t, journalErrs())

	concepts, associations, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 3)
	require.Len(t, associations, 3)

	wantConcepts, wantAssociations := s.Snapshot()
	for i, want := range wantConcepts {
		got := concepts[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Content, got.Content)
		assert.InDelta(t, want.Strength, got.Strength, 1e-9)
		assert.Equal(t, want.AccessCount, got.AccessCount)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at of %s: %v", got.ID, got.CreatedAt)
		assert.True(t, want.LastAccessedAt.Equal(got.LastAccessedAt), "last_accessed_at of %s", got.ID)
		if want.Embedding == nil {
			assert.Empty(t, got.Embedding)
			continue
		}
		assert.InDeltaSlice(t, want.Embedding, got.Embedding, 1e-6)
	}
	for i, want := range wantAssociations {
		got := associations[i]
		assert.Equal(t, want.Key(), got.Key())
		assert.InDelta(t, want.Weight, got.Weight, 1e-9)
		assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)
	}

	restored := graph.NewConceptStore(nil, graph.DefaultStoreOptions())
	require.NoError(t, restored.Restore(concepts, associations))
	require.NoError(t, restored.CheckConsistency())

	neighbors, err := restored.NeighborsOf(ctx, f.dogs)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, f.mammal, neighbors[0].Association.TargetID)

	ids, err := restored.FindByWord(ctx, "mammals")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.dogs, f.mammal}, ids)
}

func testUpsertOverwrites(t *testing.T, p storage.Persister) {
	ctx := context.Background()
	s, journalErrs := journaledStore(t, p)
	f := seed(t, s)

	res, err := s.InsertAssociation(ctx, f.dogs, f.mammal, graph.Hierarchical, 0.9, 0.95)
	require.NoError(t, err)
	require.True(t, res.Merged)
	_, _, err = s.UpsertConcept(ctx, "Dogs are mammals", nil)
	require.NoError(t, err)
	require.Empty(t, journalErrs())

	concepts, associations, err := p.Load(ctx)
	require.NoError(t, err)

	var dogs *graph.Concept
	for _, c := range concepts {
		if c.ID == f.dogs {
			dogs = c
		}
	}
	require.NotNil(t, dogs)
	assert.Equal(t, int64(2), dogs.AccessCount)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, dogs.Embedding, 1e-6, "a nil embedding must not clear the stored one")

	for _, a := range associations {
		if a.Key() == (graph.AssociationKey{SourceID: f.dogs, TargetID: f.mammal, Type: graph.Hierarchical}) {
			assert.InDelta(t, res.Association.Weight, a.Weight, 1e-9)
			assert.InDelta(t, 0.95, a.Confidence, 1e-9)
			return
		}
	}
	t.Fatal("merged association not found")
}

func testConceptsRemoved(t *testing.T, p storage.Persister) {
	ctx := context.Background()
	s, _ := journaledStore(t, p)
	f := seed(t, s)

	require.NoError(t, p.ConceptsRemoved([]string{f.dogs}))
	require.NoError(t, p.ConceptsRemoved(nil))

	concepts, associations, err := p.Load(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(concepts))
	for _, c := range concepts {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{f.mammal, f.animal}, ids)
	require.Len(t, associations, 1)
	assert.Equal(t, f.mammal, associations[0].SourceID)
	assert.Equal(t, f.animal, associations[0].TargetID)
}
