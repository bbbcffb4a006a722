package graph_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// halfLife halves strength on every decay call and adds 0.25 on reinforce.
type halfLife struct{}

func (halfLife) InitialStrength() float64 { return 0.5 }

func (halfLife) Reinforce(s float64) float64 { return s + 0.25*(1-s) }

func (halfLife) Decay(s float64, _ time.Duration) float64 { return s / 2 }

type recordingJournal struct {
	mu       sync.Mutex
	concepts []string
	edges    []graph.AssociationKey
	removed  []string
	fail     bool
}

func (j *recordingJournal) ConceptSaved(c *graph.Concept) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.concepts = append(j.concepts, c.ID)
	if j.fail {
		return errors.New("disk full")
	}
	return nil
}

func (j *recordingJournal) AssociationSaved(a *graph.Association) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.edges = append(j.edges, a.Key())
	return nil
}

func (j *recordingJournal) ConceptsRemoved(ids []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removed = append(j.removed, ids...)
	return nil
}

func newStore(t *testing.T) *graph.ConceptStore {
	t.Helper()
	return graph.NewConceptStore(halfLife{}, graph.DefaultStoreOptions())
}

func mustUpsert(t *testing.T, s *graph.ConceptStore, content string, vec []float64) string {
	t.Helper()
	id, _, err := s.UpsertConcept(context.Background(), content, vec)
	require.NoError(t, err)
	return id
}

func TestUpsertConcept_ExactDedup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id1, created, err := s.UpsertConcept(ctx, "Dogs are mammals", nil)
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := s.UpsertConcept(ctx, "  dogs ARE mammals ", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	c, err := s.GetConcept(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.AccessCount)
	assert.Equal(t, "Dogs are mammals", c.Content)
	assert.InDelta(t, 0.625, c.Strength, 1e-9)
	assert.Equal(t, 1, s.Stats().Concepts)
}

func TestUpsertConcept_SimilarityDedup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id1 := mustUpsert(t, s, "The cat sat", []float64{1, 0, 0})
	id2, created, err := s.UpsertConcept(ctx, "A cat was sitting", []float64{0.99, 0.01, 0})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	id3, created, err := s.UpsertConcept(ctx, "Fish swim", []float64{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id1, id3)
}

func TestUpsertConcept_EmptyContent(t *testing.T) {
	_, _, err := newStore(t).UpsertConcept(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestGetConcept_Unknown(t *testing.T) {
	_, err := newStore(t).GetConcept(context.Background(), "cmissing")
	assert.ErrorIs(t, err, graph.ErrUnknownConcept)

	var opErr *graph.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "GetConcept", opErr.Op)
}

func TestGetConcept_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := mustUpsert(t, s, "Dogs bark", []float64{1, 2})

	c, err := s.GetConcept(ctx, id)
	require.NoError(t, err)
	c.Embedding[0] = 42
	c.Content = "mutated"

	again, err := s.GetConcept(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Dogs bark", again.Content)
	assert.Equal(t, 1.0, again.Embedding[0])
}

func TestInsertAssociation_UnknownConcept(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := mustUpsert(t, s, "Dogs bark", nil)

	_, err := s.InsertAssociation(ctx, id, "cmissing", graph.Semantic, 0.5, 0.5)
	assert.ErrorIs(t, err, graph.ErrUnknownConcept)
	_, err = s.InsertAssociation(ctx, "cmissing", id, graph.Semantic, 0.5, 0.5)
	assert.ErrorIs(t, err, graph.ErrUnknownConcept)

	assert.Equal(t, 0, s.Stats().Associations)
	neighbors, err := s.NeighborsOf(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
	require.NoError(t, s.CheckConsistency())
}

func TestInsertAssociation_Validation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustUpsert(t, s, "Rain", nil)
	b := mustUpsert(t, s, "Wet streets", nil)

	_, err := s.InsertAssociation(ctx, a, b, graph.AssociationType("likes"), 0.5, 0.5)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
	_, err = s.InsertAssociation(ctx, a, b, graph.Causal, 1.5, 0.5)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
	_, err = s.InsertAssociation(ctx, a, a, graph.Causal, 0.5, 0.5)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestInsertAssociation_Merge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustUpsert(t, s, "Rain", nil)
	b := mustUpsert(t, s, "Wet streets", nil)

	res, err := s.InsertAssociation(ctx, a, b, graph.Causal, 0.6, 0.5)
	require.NoError(t, err)
	assert.False(t, res.Merged)

	res, err = s.InsertAssociation(ctx, a, b, graph.Causal, 0.4, 0.8)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	// 0.6 + 0.5*0.4*(1-0.6)
	assert.InDelta(t, 0.68, res.Association.Weight, 1e-9)
	assert.Equal(t, 0.8, res.Association.Confidence)
	assert.Equal(t, 1, s.Stats().Associations)

	// A different type is a different edge.
	res, err = s.InsertAssociation(ctx, a, b, graph.Temporal, 0.3, 0.3)
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, 2, s.Stats().Associations)
}

func TestInsertAssociation_RejectDuplicates(t *testing.T) {
	ctx := context.Background()
	opts := graph.DefaultStoreOptions()
	opts.RejectDuplicateAssociations = true
	s := graph.NewConceptStore(nil, opts)
	a := mustUpsert(t, s, "Rain", nil)
	b := mustUpsert(t, s, "Wet streets", nil)

	_, err := s.InsertAssociation(ctx, a, b, graph.Causal, 0.6, 0.5)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, a, b, graph.Causal, 0.6, 0.5)
	assert.ErrorIs(t, err, graph.ErrDuplicateAssociation)
}

func TestNeighborsOf_OrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	src := mustUpsert(t, s, "Source", nil)
	x := mustUpsert(t, s, "Target x", nil)
	y := mustUpsert(t, s, "Target y", nil)
	z := mustUpsert(t, s, "Target z", nil)

	_, err := s.InsertAssociation(ctx, src, x, graph.Semantic, 0.5, 0.5)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, src, y, graph.Hierarchical, 0.9, 0.9)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, src, z, graph.Semantic, 0.5, 0.5)
	require.NoError(t, err)

	neighbors, err := s.NeighborsOf(ctx, src)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)
	assert.Equal(t, y, neighbors[0].Concept.ID)
	lo, hi := x, z
	if lo > hi {
		lo, hi = hi, lo
	}
	assert.Equal(t, lo, neighbors[1].Concept.ID)
	assert.Equal(t, hi, neighbors[2].Concept.ID)

	neighbors, err = s.NeighborsOf(ctx, src, graph.Hierarchical)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, graph.Hierarchical, neighbors[0].Association.Type)

	_, err = s.NeighborsOf(ctx, "cmissing")
	assert.ErrorIs(t, err, graph.ErrUnknownConcept)
}

func TestFindByWord(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	dogs := mustUpsert(t, s, "Dogs are mammals", nil)
	cats := mustUpsert(t, s, "Cats are mammals", nil)

	ids, err := s.FindByWord(ctx, "Mammal")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dogs, cats}, ids)

	ids, err = s.FindByWord(ctx, "dog")
	require.NoError(t, err)
	assert.Equal(t, []string{dogs}, ids)

	ids, err = s.FindByWord(ctx, "are")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.FindByWord(ctx, "cats mammals")
	require.NoError(t, err)
	assert.Equal(t, []string{cats}, ids)
}

func TestSimilarConcepts(t *testing.T) {
	ctx := context.Background()
	opts := graph.DefaultStoreOptions()
	opts.DuplicateThreshold = 0
	s := graph.NewConceptStore(nil, opts)
	a := mustUpsert(t, s, "Alpha", []float64{1, 0})
	b := mustUpsert(t, s, "Beta", []float64{0.7, 0.7})
	mustUpsert(t, s, "Gamma", []float64{0, 1})
	mustUpsert(t, s, "Delta", nil)

	scored, err := s.SimilarConcepts(ctx, []float64{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, a, scored[0].Concept.ID)
	assert.Equal(t, b, scored[1].Concept.ID)
	assert.GreaterOrEqual(t, scored[0].Score, scored[1].Score)
}

func TestDecayAndPruneCascade(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := graph.DefaultStoreOptions()
	opts.Now = func() time.Time { return now }
	journal := &recordingJournal{}
	s := graph.NewConceptStore(halfLife{}, opts)
	s.SetJournal(journal, nil)

	head := mustUpsert(t, s, "Weak head", nil)
	tail := mustUpsert(t, s, "Weak tail", nil)
	keep := mustUpsert(t, s, "Strong root", nil)
	for i := 0; i < 4; i++ {
		mustUpsert(t, s, "Strong root", nil)
	}
	_, err := s.InsertAssociation(ctx, head, tail, graph.Semantic, 0.5, 0.5)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, keep, tail, graph.Semantic, 0.5, 0.5)
	require.NoError(t, err)

	changed, err := s.Decay(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	removed, err := s.Prune(ctx, 0.3)
	require.NoError(t, err)
	// tail is still referenced by the strong root.
	assert.Equal(t, []string{head}, removed)
	assert.Equal(t, 2, s.Stats().Concepts)
	assert.Equal(t, 1, s.Stats().Associations)
	require.NoError(t, s.CheckConsistency())
	assert.Equal(t, []string{head}, journal.removed)

	ids, err := s.FindByWord(ctx, "head")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPrune_RemovesWeakChain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustUpsert(t, s, "Chain a", nil)
	b := mustUpsert(t, s, "Chain b", nil)
	c := mustUpsert(t, s, "Chain c", nil)
	_, err := s.InsertAssociation(ctx, a, b, graph.Temporal, 0.5, 0.5)
	require.NoError(t, err)
	_, err = s.InsertAssociation(ctx, b, c, graph.Temporal, 0.5, 0.5)
	require.NoError(t, err)

	removed, err := s.Prune(ctx, 0.9)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b, c}, removed)
	assert.Equal(t, graph.StoreStats{}, s.Stats())
}

func TestJournalFailureDoesNotRollBack(t *testing.T) {
	var reported []string
	s := newStore(t)
	s.SetJournal(&recordingJournal{fail: true}, func(op string, err error) {
		reported = append(reported, op)
	})
	id := mustUpsert(t, s, "Dogs bark", nil)
	_, err := s.GetConcept(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"ConceptSaved"}, reported)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	a := mustUpsert(t, src, "Dogs are mammals", []float64{1, 0})
	b := mustUpsert(t, src, "Mammal", []float64{0, 1})
	_, err := src.InsertAssociation(ctx, a, b, graph.Hierarchical, 0.9, 0.9)
	require.NoError(t, err)

	concepts, associations := src.Snapshot()
	dst := newStore(t)
	require.NoError(t, dst.Restore(concepts, associations))
	assert.Equal(t, src.Stats(), dst.Stats())

	ids, err := dst.FindByWord(ctx, "mammals")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, ids)

	dangling := []*graph.Association{{SourceID: a, TargetID: "cmissing", Type: graph.Semantic}}
	err = dst.Restore(concepts, dangling)
	assert.ErrorIs(t, err, graph.ErrUnknownConcept)
	assert.Equal(t, 0, dst.Stats().Concepts)
}

func TestConcurrentUpsertSameContent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	const writers = 16
	var wg sync.WaitGroup
	created := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := s.UpsertConcept(ctx, "Concurrent content", nil)
			assert.NoError(t, err)
			created <- isNew
		}()
	}
	wg.Wait()
	close(created)

	newCount := 0
	for isNew := range created {
		if isNew {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount)

	c, err := s.GetConcept(ctx, graph.ConceptID("Concurrent content"))
	require.NoError(t, err)
	assert.Equal(t, int64(writers), c.AccessCount)
}

func TestConcurrentReadersSeeCompleteEdges(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	root := mustUpsert(t, s, "Root", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id, _, err := s.UpsertConcept(ctx, fmt.Sprintf("Leaf %d", i), nil)
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.InsertAssociation(ctx, root, id, graph.CoOccurrence, 0.5, 0.5)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			neighbors, err := s.NeighborsOf(ctx, root)
			assert.NoError(t, err)
			for _, n := range neighbors {
				_, err := s.GetConcept(ctx, n.Concept.ID)
				assert.NoError(t, err)
			}
		}
	}()
	wg.Wait()
	require.NoError(t, s.CheckConsistency())
}

func TestIndicesStayConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	words := []string{"dog", "cat", "mammal", "animal", "rain", "street"}
	op := gen.IntRange(0, 3)

	properties.Property("indices match tables after any operation sequence", prop.ForAll(
		func(ops []int, picks []int) bool {
			ctx := context.Background()
			s := graph.NewConceptStore(halfLife{}, graph.DefaultStoreOptions())
			var ids []string
			for i, o := range ops {
				p := 0
				if len(picks) > 0 {
					p = picks[i%len(picks)]
				}
				switch o {
				case 0, 1:
					content := words[p%len(words)] + " " + words[(p/len(words))%len(words)]
					id, _, err := s.UpsertConcept(ctx, content, nil)
					if err != nil {
						return false
					}
					ids = append(ids, id)
				case 2:
					if len(ids) < 2 {
						continue
					}
					a, b := ids[p%len(ids)], ids[(p+1)%len(ids)]
					if a == b {
						continue
					}
					if _, err := s.InsertAssociation(ctx, a, b, graph.AssociationTypes[p%5], 0.5, 0.5); err != nil {
						return false
					}
				case 3:
					if _, err := s.Decay(ctx, time.Now().Add(time.Hour)); err != nil {
						return false
					}
					removed, err := s.Prune(ctx, 0.2)
					if err != nil {
						return false
					}
					gone := make(map[string]bool, len(removed))
					for _, id := range removed {
						gone[id] = true
					}
					kept := ids[:0]
					for _, id := range ids {
						if !gone[id] {
							kept = append(kept, id)
						}
					}
					ids = kept
				}
			}
			return s.CheckConsistency() == nil
		},
		gen.SliceOf(op),
		gen.SliceOf(gen.IntRange(0, 35)),
	))

	properties.TestingRun(t)
}

func TestParseAssociationType(t *testing.T) {
	typ, err := graph.ParseAssociationType("Co-Occurrence")
	require.NoError(t, err)
	assert.Equal(t, graph.CoOccurrence, typ)

	_, err = graph.ParseAssociationType("friendship")
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestReasoningPathConceptIDs(t *testing.T) {
	p := graph.ReasoningPath{Steps: []graph.ReasoningStep{
		{SourceID: "a", TargetID: "b"},
		{SourceID: "b", TargetID: "c"},
	}}
	assert.Equal(t, []string{"a", "b", "c"}, p.ConceptIDs())
	assert.Equal(t, "c", p.Terminal())
	assert.Equal(t, 2, p.Len())
}

func TestBatchResultFailure(t *testing.T) {
	r := graph.BatchResult{Items: []graph.ItemResult{
		{Index: 0, ConceptID: "a"},
		{Index: 1, Err: graph.ErrEmbeddingUnavailable},
		{Index: 2, ConceptID: "c"},
	}}
	pf := r.Failure()
	require.NotNil(t, pf)
	assert.Equal(t, 2, pf.Succeeded)
	require.Len(t, pf.Failures, 1)
	assert.Equal(t, 1, pf.Failures[0].Index)
	assert.ErrorIs(t, pf, graph.ErrEmbeddingUnavailable)
	assert.Equal(t, []string{"a", "", "c"}, r.ConceptIDs())

	ok := graph.BatchResult{Items: []graph.ItemResult{{ConceptID: "a"}}}
	assert.Nil(t, ok.Failure())
}

func TestNewOpErrorNil(t *testing.T) {
	assert.NoError(t, graph.NewOpError("x", nil))
	err := graph.NewOpError("Learn", graph.ErrConnection)
	assert.True(t, graph.IsTransient(err))
	assert.Equal(t, "conceptgraph: Learn: connection error", err.Error())
}
