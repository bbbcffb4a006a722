package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
)

// Reader is the read-only view of a concept graph used by reasoning.
type Reader interface {
	// GetConcept returns a copy of the concept, or ErrUnknownConcept.
	GetConcept(ctx context.Context, id string) (*Concept, error)

	// NeighborsOf returns the outgoing edges of id, optionally filtered by
	// type, ordered by weight desc then target id asc.
	NeighborsOf(ctx context.Context, id string, types ...AssociationType) ([]Neighbor, error)

	// FindByWord returns the ids of concepts whose content contains word,
	// sorted ascending.
	FindByWord(ctx context.Context, word string) ([]string, error)

	// SimilarConcepts returns up to limit concepts ranked by cosine similarity
	// to vector.
	SimilarConcepts(ctx context.Context, vector []float64, limit int) ([]ScoredConcept, error)
}

// Store is the full concept store contract.
type Store interface {
	Reader

	// UpsertConcept creates the concept or reinforces the existing one that
	// matches it. It returns the concept id and whether it was created.
	UpsertConcept(ctx context.Context, content string, embedding []float64) (string, bool, error)

	// InsertAssociation inserts or merges an edge. It fails with
	// ErrUnknownConcept if either endpoint is absent.
	InsertAssociation(ctx context.Context, sourceID, targetID string, typ AssociationType, weight, confidence float64) (*AssociationResult, error)
}

// StrengthPolicy decides how concept strength evolves.
type StrengthPolicy interface {
	// InitialStrength is the strength of a newly created concept.
	InitialStrength() float64

	// Reinforce returns the strength after one more access.
	Reinforce(current float64) float64

	// Decay returns the strength after elapsed time without access.
	Decay(current float64, elapsed time.Duration) float64
}

// Journal receives every committed mutation. It is called while the store
// holds its write lock, so implementations must not call back into the store.
type Journal interface {
	ConceptSaved(c *Concept) error
	AssociationSaved(a *Association) error
	ConceptsRemoved(ids []string) error
}

// JournalErrorHandler is told about journal failures. The in-memory store is
// authoritative: a failing journal never rolls back a mutation.
type JournalErrorHandler func(op string, err error)

// StoreOptions configures a ConceptStore.
type StoreOptions struct {
	// DuplicateThreshold is the cosine similarity at or above which a new
	// content is merged into an existing concept. 0 disables similarity dedup.
	DuplicateThreshold float64

	// MergeFactor scales how much a merged association reinforces the
	// existing weight. Default: 0.5.
	MergeFactor float64

	// RejectDuplicateAssociations makes InsertAssociation fail with
	// ErrDuplicateAssociation instead of merging.
	RejectDuplicateAssociations bool

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// DefaultStoreOptions returns the default store configuration.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		DuplicateThreshold: 0.95,
		MergeFactor:        0.5,
		Now:                time.Now,
	}
}

// fullStrength keeps every concept at strength 1.0.
type fullStrength struct{}

func (fullStrength) InitialStrength() float64 { return 1.0 }

func (fullStrength) Reinforce(float64) float64 { return 1.0 }

func (fullStrength) Decay(current float64, _ time.Duration) float64 { return current }

var _ Store = (*ConceptStore)(nil)

// ConceptStore is the in-memory concept graph.
//
// A single reader/writer lock guards the tables and every index, so a reader
// never observes an edge without both endpoints or a concept with a subset
// of its index entries.
//
// Example usage:
//
//	store := graph.NewConceptStore(intelligence.NewEbbinghausManager(0.1, 0.3), graph.DefaultStoreOptions())
//	id, created, err := store.UpsertConcept(ctx, "Dogs are mammals", vec)
type ConceptStore struct {
	mu sync.RWMutex

	policy StrengthPolicy
	opts   StoreOptions

	concepts     map[string]*Concept
	associations map[AssociationKey]*Association

	// words maps a stemmed term to the ids of concepts containing it.
	words map[string]map[string]struct{}
	// outgoing maps a source id to the keys of its edges.
	outgoing map[string]map[AssociationKey]struct{}
	// incoming counts the edges pointing at each concept.
	incoming map[string]int
	// decayedAt is when decay was last applied to each concept.
	decayedAt map[string]time.Time

	journal      Journal
	onJournalErr JournalErrorHandler
}

// NewConceptStore creates an empty store. A nil policy keeps every concept
// at full strength.
func NewConceptStore(policy StrengthPolicy, opts StoreOptions) *ConceptStore {
	if policy == nil {
		policy = fullStrength{}
	}
	if opts.MergeFactor <= 0 {
		opts.MergeFactor = 0.5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ConceptStore{
		policy:       policy,
		opts:         opts,
		concepts:     make(map[string]*Concept),
		associations: make(map[AssociationKey]*Association),
		words:        make(map[string]map[string]struct{}),
		outgoing:     make(map[string]map[AssociationKey]struct{}),
		incoming:     make(map[string]int),
		decayedAt:    make(map[string]time.Time),
	}
}

// SetJournal installs j to receive committed mutations. onErr may be nil.
func (s *ConceptStore) SetJournal(j Journal, onErr JournalErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
	s.onJournalErr = onErr
}

// ConceptID returns the id a content would be stored under.
func ConceptID(content string) string {
	return "c" + lexicon.Key(content)[:16]
}

// UpsertConcept deduplicates by exact normalised content first and by
// embedding similarity second. A match is reinforced and its access count
// incremented; otherwise a new concept is created.
func (s *ConceptStore) UpsertConcept(ctx context.Context, content string, embedding []float64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, NewOpError("UpsertConcept", err)
	}
	content = strings.TrimSpace(content)
	normalized := lexicon.Normalize(content)
	if normalized == "" {
		return "", false, NewOpError("UpsertConcept", fmt.Errorf("%w: empty content", ErrInvalidInput))
	}
	id := ConceptID(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()

	if existing, ok := s.concepts[id]; ok {
		if lexicon.Normalize(existing.Content) != normalized {
			return "", false, NewOpError("UpsertConcept", fmt.Errorf("%w: id %s maps to different content", ErrIndexCorrupted, id))
		}
		if existing.Embedding == nil && embedding != nil {
			existing.Embedding = append([]float64(nil), embedding...)
		}
		s.reinforce(existing, now)
		return id, false, nil
	}

	if match := s.mostSimilar(embedding); match != nil {
		s.reinforce(match, now)
		return match.ID, false, nil
	}

	c := &Concept{
		ID:             id,
		Content:        content,
		Strength:       s.policy.InitialStrength(),
		AccessCount:    1,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if embedding != nil {
		c.Embedding = append([]float64(nil), embedding...)
	}
	s.concepts[id] = c
	s.decayedAt[id] = now
	for _, term := range lexicon.Terms(content) {
		ids, ok := s.words[term]
		if !ok {
			ids = make(map[string]struct{})
			s.words[term] = ids
		}
		ids[id] = struct{}{}
	}
	s.record("ConceptSaved", func(j Journal) error { return j.ConceptSaved(c.Clone()) })
	return id, true, nil
}

func (s *ConceptStore) reinforce(c *Concept, now time.Time) {
	c.Strength = clampStrength(s.policy.Reinforce(c.Strength))
	c.AccessCount++
	c.LastAccessedAt = now
	s.decayedAt[c.ID] = now
	s.record("ConceptSaved", func(j Journal) error { return j.ConceptSaved(c.Clone()) })
}

// mostSimilar returns the concept most similar to embedding at or above the
// duplicate threshold. Ties go to the smaller id.
func (s *ConceptStore) mostSimilar(embedding []float64) *Concept {
	if embedding == nil || s.opts.DuplicateThreshold <= 0 {
		return nil
	}
	var best *Concept
	bestScore := 0.0
	for _, c := range s.concepts {
		if c.Embedding == nil {
			continue
		}
		score := CosineSimilarity(embedding, c.Embedding)
		if score < s.opts.DuplicateThreshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && c.ID < best.ID) {
			best, bestScore = c, score
		}
	}
	return best
}

// GetConcept returns a copy of the concept with the given id.
func (s *ConceptStore) GetConcept(ctx context.Context, id string) (*Concept, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewOpError("GetConcept", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[id]
	if !ok {
		return nil, NewOpError("GetConcept", fmt.Errorf("%w: %s", ErrUnknownConcept, id))
	}
	return c.Clone(), nil
}

// InsertAssociation inserts an edge or merges it into the existing edge with
// the same (source, target, type). Merging reinforces the weight
// (w + f·w_new·(1−w), capped at 1) and keeps the higher confidence.
func (s *ConceptStore) InsertAssociation(ctx context.Context, sourceID, targetID string, typ AssociationType, weight, confidence float64) (*AssociationResult, error) {
	const op = "InsertAssociation"
	if err := ctx.Err(); err != nil {
		return nil, NewOpError(op, err)
	}
	if !typ.Valid() {
		return nil, NewOpError(op, fmt.Errorf("%w: association type %q", ErrInvalidInput, typ))
	}
	if !unitRange(weight) || !unitRange(confidence) {
		return nil, NewOpError(op, fmt.Errorf("%w: weight and confidence must be within [0, 1]", ErrInvalidInput))
	}
	if sourceID == targetID {
		return nil, NewOpError(op, fmt.Errorf("%w: self association on %s", ErrInvalidInput, sourceID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.concepts[sourceID]; !ok {
		return nil, NewOpError(op, fmt.Errorf("%w: source %s", ErrUnknownConcept, sourceID))
	}
	if _, ok := s.concepts[targetID]; !ok {
		return nil, NewOpError(op, fmt.Errorf("%w: target %s", ErrUnknownConcept, targetID))
	}

	now := s.opts.Now()
	key := AssociationKey{SourceID: sourceID, TargetID: targetID, Type: typ}
	if a, ok := s.associations[key]; ok {
		if s.opts.RejectDuplicateAssociations {
			return nil, NewOpError(op, fmt.Errorf("%w: %s -[%s]-> %s", ErrDuplicateAssociation, sourceID, typ, targetID))
		}
		a.Weight = math.Min(1, a.Weight+s.opts.MergeFactor*weight*(1-a.Weight))
		a.Confidence = math.Max(a.Confidence, confidence)
		a.UpdatedAt = now
		merged := *a
		s.record("AssociationSaved", func(j Journal) error { return j.AssociationSaved(&merged) })
		return &AssociationResult{Association: merged, Merged: true}, nil
	}

	a := &Association{
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       typ,
		Weight:     weight,
		Confidence: confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.linkLocked(a)
	created := *a
	s.record("AssociationSaved", func(j Journal) error { return j.AssociationSaved(&created) })
	return &AssociationResult{Association: created}, nil
}

func (s *ConceptStore) linkLocked(a *Association) {
	key := a.Key()
	s.associations[key] = a
	edges, ok := s.outgoing[a.SourceID]
	if !ok {
		edges = make(map[AssociationKey]struct{})
		s.outgoing[a.SourceID] = edges
	}
	edges[key] = struct{}{}
	s.incoming[a.TargetID]++
}

// NeighborsOf returns the outgoing edges of id with copies of their targets.
func (s *ConceptStore) NeighborsOf(ctx context.Context, id string, types ...AssociationType) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewOpError("NeighborsOf", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.concepts[id]; !ok {
		return nil, NewOpError("NeighborsOf", fmt.Errorf("%w: %s", ErrUnknownConcept, id))
	}

	var filter map[AssociationType]struct{}
	if len(types) > 0 {
		filter = make(map[AssociationType]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	neighbors := make([]Neighbor, 0, len(s.outgoing[id]))
	for key := range s.outgoing[id] {
		if filter != nil {
			if _, ok := filter[key.Type]; !ok {
				continue
			}
		}
		a, ok := s.associations[key]
		if !ok {
			return nil, NewOpError("NeighborsOf", fmt.Errorf("%w: adjacency references missing edge", ErrIndexCorrupted))
		}
		target, ok := s.concepts[key.TargetID]
		if !ok {
			return nil, NewOpError("NeighborsOf", fmt.Errorf("%w: edge to missing concept %s", ErrIndexCorrupted, key.TargetID))
		}
		neighbors = append(neighbors, Neighbor{Association: *a, Concept: target.Clone()})
	}
	SortNeighbors(neighbors)
	return neighbors, nil
}

// SortNeighbors orders neighbors by weight desc, then target id asc, then type.
func SortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		a, b := neighbors[i].Association, neighbors[j].Association
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
}

// FindByWord looks word up in the inverted index. The word goes through the
// same normalisation and stemming as stored content; stop words match nothing.
func (s *ConceptStore) FindByWord(ctx context.Context, word string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewOpError("FindByWord", err)
	}
	terms := lexicon.Terms(word)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// A multi-word argument matches concepts containing every term.
	var result map[string]struct{}
	for _, term := range terms {
		ids := s.words[term]
		if result == nil {
			result = make(map[string]struct{}, len(ids))
			for id := range ids {
				result[id] = struct{}{}
			}
			continue
		}
		for id := range result {
			if _, ok := ids[id]; !ok {
				delete(result, id)
			}
		}
	}
	return sortedIDs(result), nil
}

// SimilarConcepts ranks concepts by cosine similarity to vector. Concepts
// without an embedding and non-positive scores are skipped.
func (s *ConceptStore) SimilarConcepts(ctx context.Context, vector []float64, limit int) ([]ScoredConcept, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewOpError("SimilarConcepts", err)
	}
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	scored := make([]ScoredConcept, 0, len(s.concepts))
	for _, c := range s.concepts {
		if c.Embedding == nil {
			continue
		}
		score := CosineSimilarity(vector, c.Embedding)
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredConcept{Concept: c.Clone(), Score: score})
	}
	s.mu.RUnlock()

	SortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SortScored orders by score desc, then concept id asc.
func SortScored(scored []ScoredConcept) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Concept.ID < scored[j].Concept.ID
	})
}

// Decay applies the strength policy's decay to every concept for the time
// elapsed since it was last accessed or decayed. It returns the number of
// concepts whose strength changed.
func (s *ConceptStore) Decay(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewOpError("Decay", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, id := range s.sortedConceptIDsLocked() {
		c := s.concepts[id]
		since := s.decayedAt[id]
		if !now.After(since) {
			continue
		}
		next := clampStrength(s.policy.Decay(c.Strength, now.Sub(since)))
		s.decayedAt[id] = now
		if next == c.Strength {
			continue
		}
		c.Strength = next
		changed++
		s.record("ConceptSaved", func(j Journal) error { return j.ConceptSaved(c.Clone()) })
	}
	return changed, nil
}

// Prune removes every concept whose strength is below threshold and that no
// association points at, together with its outgoing associations. Removal
// repeats until no further concept qualifies, so a weak chain is removed
// from its head inwards. It returns the removed ids in ascending order.
func (s *ConceptStore) Prune(ctx context.Context, threshold float64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewOpError("Prune", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for {
		var round []string
		for _, id := range s.sortedConceptIDsLocked() {
			if s.concepts[id].Strength < threshold && s.incoming[id] == 0 {
				round = append(round, id)
			}
		}
		if len(round) == 0 {
			break
		}
		for _, id := range round {
			if err := s.removeLocked(id); err != nil {
				return removed, NewOpError("Prune", err)
			}
		}
		removed = append(removed, round...)
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		ids := append([]string(nil), removed...)
		s.record("ConceptsRemoved", func(j Journal) error { return j.ConceptsRemoved(ids) })
	}
	return removed, nil
}

func (s *ConceptStore) removeLocked(id string) error {
	c, ok := s.concepts[id]
	if !ok {
		return fmt.Errorf("%w: remove of missing concept %s", ErrIndexCorrupted, id)
	}
	for key := range s.outgoing[id] {
		if _, ok := s.associations[key]; !ok {
			return fmt.Errorf("%w: adjacency references missing edge", ErrIndexCorrupted)
		}
		if s.incoming[key.TargetID] <= 0 {
			return fmt.Errorf("%w: incoming count underflow on %s", ErrIndexCorrupted, key.TargetID)
		}
		delete(s.associations, key)
		s.incoming[key.TargetID]--
		if s.incoming[key.TargetID] == 0 {
			delete(s.incoming, key.TargetID)
		}
	}
	delete(s.outgoing, id)
	for _, term := range lexicon.Terms(c.Content) {
		if ids, ok := s.words[term]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.words, term)
			}
		}
	}
	delete(s.concepts, id)
	delete(s.decayedAt, id)
	delete(s.incoming, id)
	return nil
}

// Restore replaces the store contents with the given records and rebuilds
// every index. An association whose endpoint is missing fails the restore
// with ErrUnknownConcept and leaves the store empty.
func (s *ConceptStore) Restore(concepts []*Concept, associations []*Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.concepts = make(map[string]*Concept, len(concepts))
	s.associations = make(map[AssociationKey]*Association, len(associations))
	s.words = make(map[string]map[string]struct{})
	s.outgoing = make(map[string]map[AssociationKey]struct{})
	s.incoming = make(map[string]int)
	s.decayedAt = make(map[string]time.Time, len(concepts))

	for _, c := range concepts {
		cp := c.Clone()
		s.concepts[cp.ID] = cp
		s.decayedAt[cp.ID] = cp.LastAccessedAt
		for _, term := range lexicon.Terms(cp.Content) {
			ids, ok := s.words[term]
			if !ok {
				ids = make(map[string]struct{})
				s.words[term] = ids
			}
			ids[cp.ID] = struct{}{}
		}
	}
	for _, a := range associations {
		_, srcOK := s.concepts[a.SourceID]
		_, dstOK := s.concepts[a.TargetID]
		if !srcOK || !dstOK {
			s.resetLocked()
			return NewOpError("Restore", fmt.Errorf("%w: dangling association %s -[%s]-> %s", ErrUnknownConcept, a.SourceID, a.Type, a.TargetID))
		}
		cp := *a
		s.linkLocked(&cp)
	}
	if err := s.checkLocked(); err != nil {
		s.resetLocked()
		return NewOpError("Restore", err)
	}
	return nil
}

func (s *ConceptStore) resetLocked() {
	s.concepts = make(map[string]*Concept)
	s.associations = make(map[AssociationKey]*Association)
	s.words = make(map[string]map[string]struct{})
	s.outgoing = make(map[string]map[AssociationKey]struct{})
	s.incoming = make(map[string]int)
	s.decayedAt = make(map[string]time.Time)
}

// Snapshot returns copies of every concept and association, sorted by id and
// key respectively.
func (s *ConceptStore) Snapshot() ([]*Concept, []*Association) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	concepts := make([]*Concept, 0, len(s.concepts))
	for _, id := range s.sortedConceptIDsLocked() {
		concepts = append(concepts, s.concepts[id].Clone())
	}
	associations := make([]*Association, 0, len(s.associations))
	for _, a := range s.associations {
		cp := *a
		associations = append(associations, &cp)
	}
	sort.Slice(associations, func(i, j int) bool {
		a, b := associations[i], associations[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
	return concepts, associations
}

// Stats returns the current table sizes.
func (s *ConceptStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Concepts:     len(s.concepts),
		Associations: len(s.associations),
		Words:        len(s.words),
	}
}

// CheckConsistency verifies that every index agrees with the tables. It
// returns ErrIndexCorrupted describing the first violation found.
func (s *ConceptStore) CheckConsistency() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkLocked()
}

func (s *ConceptStore) checkLocked() error {
	incoming := make(map[string]int)
	edges := 0
	for src, keys := range s.outgoing {
		for key := range keys {
			if key.SourceID != src {
				return fmt.Errorf("%w: edge %v filed under %s", ErrIndexCorrupted, key, src)
			}
			if _, ok := s.associations[key]; !ok {
				return fmt.Errorf("%w: adjacency references missing edge %v", ErrIndexCorrupted, key)
			}
			incoming[key.TargetID]++
			edges++
		}
	}
	if edges != len(s.associations) {
		return fmt.Errorf("%w: %d edges indexed, %d stored", ErrIndexCorrupted, edges, len(s.associations))
	}
	for key := range s.associations {
		if _, ok := s.concepts[key.SourceID]; !ok {
			return fmt.Errorf("%w: dangling source %s", ErrIndexCorrupted, key.SourceID)
		}
		if _, ok := s.concepts[key.TargetID]; !ok {
			return fmt.Errorf("%w: dangling target %s", ErrIndexCorrupted, key.TargetID)
		}
	}
	for id, n := range s.incoming {
		if incoming[id] != n {
			return fmt.Errorf("%w: incoming count of %s is %d, expected %d", ErrIndexCorrupted, id, n, incoming[id])
		}
	}
	for id, n := range incoming {
		if s.incoming[id] != n {
			return fmt.Errorf("%w: incoming count of %s is %d, expected %d", ErrIndexCorrupted, id, s.incoming[id], n)
		}
	}
	for term, ids := range s.words {
		for id := range ids {
			c, ok := s.concepts[id]
			if !ok {
				return fmt.Errorf("%w: word %q indexes missing concept %s", ErrIndexCorrupted, term, id)
			}
			if _, ok := lexicon.TermSet(c.Content)[term]; !ok {
				return fmt.Errorf("%w: word %q wrongly indexes %s", ErrIndexCorrupted, term, id)
			}
		}
	}
	for id, c := range s.concepts {
		for _, term := range lexicon.Terms(c.Content) {
			if _, ok := s.words[term][id]; !ok {
				return fmt.Errorf("%w: concept %s missing from word %q", ErrIndexCorrupted, id, term)
			}
		}
	}
	return nil
}

func (s *ConceptStore) sortedConceptIDsLocked() []string {
	ids := make([]string, 0, len(s.concepts))
	for id := range s.concepts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *ConceptStore) record(op string, fn func(Journal) error) {
	if s.journal == nil {
		return
	}
	if err := fn(s.journal); err != nil && s.onJournalErr != nil {
		s.onJournalErr(op, err)
	}
}

func sortedIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func unitRange(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}

func clampStrength(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
