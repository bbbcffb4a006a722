// Package graph holds the concept-graph domain model and the in-memory
// ConceptStore that owns concepts, associations and their lookup indices.
package graph

import (
	"fmt"
	"strings"
	"time"
)

// Concept is a learned unit of knowledge.
//
// A concept contains:
//   - Content: The text the concept was learned from (immutable)
//   - Strength: Retention strength (0.0-1.0), reinforced on re-learning and decayed over time
//   - AccessCount: How many times the concept was learned or merged into
//   - Embedding: Vector representation used for similarity dedup and seeding
//
// Example:
//
//	concept := &graph.Concept{
//	    ID:       "c3f2a9d1e04b7c6a8",
//	    Content:  "Dogs are mammals",
//	    Strength: 1.0,
//	}
type Concept struct {
	// ID is the content-derived identifier of the concept.
	ID string `json:"id"`

	// Content is the text content of the concept.
	Content string `json:"content"`

	// Strength is the current retention strength (0.0-1.0).
	// 1.0 = fully retained, 0.0 = completely forgotten.
	Strength float64 `json:"strength"`

	// AccessCount is the number of learns that created or merged into the concept.
	AccessCount int64 `json:"access_count"`

	// CreatedAt is when the concept was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the concept was last learned or merged into.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// Embedding is the vector embedding of Content.
	// Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"embedding,omitempty"`
}

// Clone returns a deep copy of the concept.
func (c *Concept) Clone() *Concept {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Embedding != nil {
		cp.Embedding = append([]float64(nil), c.Embedding...)
	}
	return &cp
}

// AssociationType is the closed set of relationship kinds between concepts.
type AssociationType string

const (
	// Semantic links concepts with strongly overlapping meaning.
	Semantic AssociationType = "semantic"

	// Causal links a cause to its effect.
	Causal AssociationType = "causal"

	// Temporal links events ordered in time.
	Temporal AssociationType = "temporal"

	// Hierarchical links a concept to its category ("is a").
	Hierarchical AssociationType = "hierarchical"

	// CoOccurrence links concepts that merely share words.
	CoOccurrence AssociationType = "co_occurrence"
)

// AssociationTypes lists every valid association type in wire order.
var AssociationTypes = []AssociationType{Semantic, Causal, Temporal, Hierarchical, CoOccurrence}

// Valid reports whether t is one of the known association types.
func (t AssociationType) Valid() bool {
	for _, known := range AssociationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseAssociationType converts a string into an AssociationType.
// It accepts "co-occurrence" as an alias of "co_occurrence".
func ParseAssociationType(s string) (AssociationType, error) {
	t := AssociationType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !t.Valid() {
		return "", fmt.Errorf("%w: association type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// Association is a typed, weighted, directed relationship between two concepts.
type Association struct {
	// SourceID is the id of the concept the edge starts from.
	SourceID string `json:"source_id"`

	// TargetID is the id of the concept the edge points to.
	TargetID string `json:"target_id"`

	// Type is the relationship kind.
	Type AssociationType `json:"type"`

	// Weight is the traversal weight (0.0-1.0), reinforced on merge.
	Weight float64 `json:"weight"`

	// Confidence is the extraction confidence (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// CreatedAt is when the association was first inserted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the association was last merged into.
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the identity of the association.
func (a *Association) Key() AssociationKey {
	return AssociationKey{SourceID: a.SourceID, TargetID: a.TargetID, Type: a.Type}
}

// AssociationKey identifies an association: at most one edge exists per key.
type AssociationKey struct {
	SourceID string
	TargetID string
	Type     AssociationType
}

// AssociationResult is the outcome of InsertAssociation.
type AssociationResult struct {
	// Association is the stored edge after the insert or merge.
	Association Association `json:"association"`

	// Merged is true when an edge with the same key already existed and was
	// reinforced instead of created.
	Merged bool `json:"merged"`
}

// Neighbor is one outgoing edge together with the concept it reaches.
type Neighbor struct {
	Association Association `json:"association"`
	Concept     *Concept    `json:"concept"`
}

// ScoredConcept is a concept with a relevance or similarity score.
type ScoredConcept struct {
	Concept *Concept `json:"concept"`

	// Score is the relevance score (higher is better).
	Score float64 `json:"score"`
}

// ReasoningStep is one hop of a reasoning path.
type ReasoningStep struct {
	SourceID    string      `json:"source_id"`
	Association Association `json:"association"`
	TargetID    string      `json:"target_id"`
}

// ReasoningPath is an ordered chain of steps that justifies an answer.
type ReasoningPath struct {
	// Steps are the hops from the seed concept to the terminal concept.
	Steps []ReasoningStep `json:"steps"`

	// Confidence is the product of the per-step scores.
	Confidence float64 `json:"confidence"`

	// Explanation is a human-readable rendering of the chain.
	Explanation string `json:"explanation"`
}

// Len returns the number of steps.
func (p *ReasoningPath) Len() int {
	return len(p.Steps)
}

// Terminal returns the id of the last concept on the path.
func (p *ReasoningPath) Terminal() string {
	if len(p.Steps) == 0 {
		return ""
	}
	return p.Steps[len(p.Steps)-1].TargetID
}

// ConceptIDs returns every concept id on the path in order, without repeats.
// A downstream generator uses these ids to trace its sentences back to the graph.
func (p *ReasoningPath) ConceptIDs() []string {
	if len(p.Steps) == 0 {
		return nil
	}
	ids := make([]string, 0, len(p.Steps)+1)
	seen := make(map[string]struct{}, len(p.Steps)+1)
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(p.Steps[0].SourceID)
	for _, s := range p.Steps {
		add(s.TargetID)
	}
	return ids
}

// LearnItem is one unit of text to learn.
type LearnItem struct {
	// Content is the raw text.
	Content string `json:"content"`

	// Embedding is an optional precomputed vector. When set the embedding
	// cache is bypassed for this item.
	Embedding []float64 `json:"embedding,omitempty"`

	// RelationHint optionally names a category the content belongs to. The
	// hint becomes its own concept and receives a hierarchical edge.
	RelationHint string `json:"relation_hint,omitempty"`

	// Source identifies where the text came from. Provenance only.
	Source string `json:"source,omitempty"`

	// ChunkIndex is the position of the text within Source. Provenance only.
	ChunkIndex int `json:"chunk_index,omitempty"`
}

// ItemResult is the outcome of learning one item.
type ItemResult struct {
	// Index is the position of the item in the request.
	Index int `json:"index"`

	// ConceptID is the id of the created or merged concept, empty on failure.
	ConceptID string `json:"concept_id,omitempty"`

	// WasNew is true when the concept was created by this learn.
	WasNew bool `json:"was_new"`

	// Err is set when the item failed.
	Err error `json:"-"`

	// Warnings collects non-fatal outcomes such as merged duplicate
	// associations or failed association inserts.
	Warnings []error `json:"-"`
}

// BatchResult is the per-item outcome of a batch learn.
type BatchResult struct {
	Items []ItemResult `json:"items"`
}

// ConceptIDs returns the concept id of every item, empty for failed items.
func (r *BatchResult) ConceptIDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ConceptID
	}
	return ids
}

// Failure returns the failed items as a PartialBatchFailure, or nil when
// every item succeeded.
func (r *BatchResult) Failure() *PartialBatchFailure {
	var pf PartialBatchFailure
	for _, it := range r.Items {
		if it.Err != nil {
			pf.Failures = append(pf.Failures, ItemFailure{Index: it.Index, Err: it.Err})
			continue
		}
		pf.Succeeded++
	}
	if len(pf.Failures) == 0 {
		return nil
	}
	return &pf
}

// StoreStats reports the size of a store.
type StoreStats struct {
	Concepts     int `json:"concepts"`
	Associations int `json:"associations"`
	Words        int `json:"words"`
}

// HealthStatus reports the state of a storage adapter.
type HealthStatus struct {
	// Status is "ok" when the adapter can serve requests.
	Status string `json:"status"`

	Concepts     int `json:"concepts"`
	Associations int `json:"associations"`

	// Uptime is how long the serving process has been running.
	Uptime time.Duration `json:"uptime"`

	// Version is the server build version.
	Version string `json:"version"`
}
