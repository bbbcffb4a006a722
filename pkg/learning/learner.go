// Package learning grows the concept graph from text.
//
// A Learner embeds content through the embedding cache, creates or merges
// the concept in the store, gathers candidate neighbours from the inverted
// index and the relation hint, and inserts the associations the extractor
// derives from them.
package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanbase/conceptgraph-go/pkg/embedcache"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/intelligence"
	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
)

var tracer = otel.Tracer("conceptgraph.learning")

// Embedder is the part of the embedding cache the learner needs.
type Embedder interface {
	GetOrComputeBatch(ctx context.Context, texts []string) []embedcache.Result
	Dimensions() int
}

// Config contains configuration for the learner.
type Config struct {
	// Extractor holds the association heuristics thresholds.
	Extractor intelligence.ExtractorConfig `json:"extractor" yaml:"extractor"`

	// MaxCandidates bounds the neighbours considered per item (default: 64).
	// The relation hint is always considered.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates"`
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{
		Extractor:     intelligence.DefaultExtractorConfig(),
		MaxCandidates: 64,
	}
}

// Option configures a Learner.
type Option func(*Learner)

// WithLogger sets the logger used for provenance and warnings.
func WithLogger(l *logger.Logger) Option {
	return func(lr *Learner) {
		if l != nil {
			lr.log = l
		}
	}
}

// Learner orchestrates ingestion into a concept store.
type Learner struct {
	store     graph.Store
	embed     Embedder
	extractor *intelligence.Extractor
	cfg       Config
	log       *logger.Logger

	// mu serialises the store half of learning, one item at a time.
	mu sync.Mutex
}

// New creates a learner writing to store.
func New(store graph.Store, embed Embedder, cfg Config, opts ...Option) (*Learner, error) {
	if store == nil || embed == nil {
		return nil, fmt.Errorf("%w: learner needs a store and an embedder", graph.ErrInvalidInput)
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	l := &Learner{
		store:     store,
		embed:     embed,
		extractor: intelligence.NewExtractor(cfg.Extractor),
		cfg:       cfg,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Learn learns a single item. The returned result is non-nil even on
// failure so that warnings are never lost.
func (l *Learner) Learn(ctx context.Context, item graph.LearnItem) (*graph.ItemResult, error) {
	res := l.LearnBatch(ctx, []graph.LearnItem{item})
	it := res.Items[0]
	return &it, it.Err
}

// LearnBatch learns items with one embedding round trip for the whole batch.
// A failing item is reported in its ItemResult and never stops the others.
func (l *Learner) LearnBatch(ctx context.Context, items []graph.LearnItem) *graph.BatchResult {
	ctx, span := tracer.Start(ctx, "learning.LearnBatch",
		trace.WithAttributes(attribute.Int("learn.items", len(items))))
	defer span.End()

	result := &graph.BatchResult{Items: make([]graph.ItemResult, len(items))}
	for i := range items {
		result.Items[i].Index = i
	}

	contents, hints := l.embedAll(ctx, items)

	failed := 0
	for i, item := range items {
		it := &result.Items[i]
		if err := ctx.Err(); err != nil {
			it.Err = err
		} else {
			l.learnOne(ctx, item, contents[i], hints[i], it)
		}
		if it.Err != nil {
			failed++
			learnItems.WithLabelValues("failed").Inc()
			l.log.Warn("learn failed", "index", i, "source", item.Source, "chunk", item.ChunkIndex, "error", it.Err)
		}
	}

	span.SetAttributes(attribute.Int("learn.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d items failed", failed, len(items)))
	}
	return result
}

// embedAll resolves every content and hint vector in one cache call. Items
// carrying their own embedding skip the cache.
func (l *Learner) embedAll(ctx context.Context, items []graph.LearnItem) (contents, hints []embedcache.Result) {
	contents = make([]embedcache.Result, len(items))
	hints = make([]embedcache.Result, len(items))

	var texts []string
	type slot struct {
		results []embedcache.Result
		index   int
	}
	var slots []slot
	for i, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			contents[i].Err = fmt.Errorf("%w: empty content", graph.ErrInvalidInput)
			continue
		}
		if item.Embedding != nil {
			if len(item.Embedding) != l.embed.Dimensions() {
				contents[i].Err = fmt.Errorf("%w: embedding has %d dimensions, want %d",
					graph.ErrInvalidInput, len(item.Embedding), l.embed.Dimensions())
			} else {
				contents[i].Vector = item.Embedding
			}
		} else {
			texts = append(texts, item.Content)
			slots = append(slots, slot{contents, i})
		}
		if strings.TrimSpace(item.RelationHint) != "" {
			texts = append(texts, item.RelationHint)
			slots = append(slots, slot{hints, i})
		}
	}
	if len(texts) == 0 {
		return contents, hints
	}
	for j, r := range l.embed.GetOrComputeBatch(ctx, texts) {
		slots[j].results[slots[j].index] = r
	}
	return contents, hints
}

// learnOne runs the store half of learning for one item.
func (l *Learner) learnOne(ctx context.Context, item graph.LearnItem, content, hint embedcache.Result, it *graph.ItemResult) {
	if content.Err != nil {
		it.Err = content.Err
		return
	}

	ctx, span := tracer.Start(ctx, "learning.item",
		trace.WithAttributes(attribute.String("learn.source", item.Source), attribute.Int("learn.chunk", item.ChunkIndex)))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	id, wasNew, err := l.store.UpsertConcept(ctx, item.Content, content.Vector)
	if err != nil {
		it.Err = err
		span.RecordError(err)
		return
	}
	it.ConceptID, it.WasNew = id, wasNew
	if wasNew {
		learnItems.WithLabelValues("created").Inc()
	} else {
		learnItems.WithLabelValues("merged").Inc()
	}

	hintID := ""
	if strings.TrimSpace(item.RelationHint) != "" {
		if hint.Err != nil {
			it.Warnings = append(it.Warnings, fmt.Errorf("relation hint %q: %w", item.RelationHint, hint.Err))
		}
		hid, _, err := l.store.UpsertConcept(ctx, item.RelationHint, hint.Vector)
		if err != nil {
			it.Warnings = append(it.Warnings, fmt.Errorf("relation hint %q: %w", item.RelationHint, err))
		} else {
			hintID = hid
		}
	}

	candidates, err := l.candidates(ctx, item.Content, id, hintID)
	if err != nil {
		it.Warnings = append(it.Warnings, fmt.Errorf("gather candidates: %w", err))
	}

	edges := l.extractor.Extract(intelligence.ExtractRequest{
		ConceptID:  id,
		Content:    item.Content,
		HintID:     hintID,
		Candidates: candidates,
	})
	inserted := 0
	for _, e := range edges {
		res, err := l.store.InsertAssociation(ctx, e.SourceID, e.TargetID, e.Type, e.Weight, e.Confidence)
		if err != nil {
			it.Warnings = append(it.Warnings, fmt.Errorf("association %s -> %s (%s): %w", e.SourceID, e.TargetID, e.Type, err))
			continue
		}
		inserted++
		associationsInserted.WithLabelValues(string(e.Type)).Inc()
		if res.Merged {
			it.Warnings = append(it.Warnings, fmt.Errorf("%w: %s -> %s (%s) merged",
				graph.ErrDuplicateAssociation, e.SourceID, e.TargetID, e.Type))
		}
	}

	span.SetAttributes(
		attribute.String("concept.id", id),
		attribute.Bool("concept.new", wasNew),
		attribute.Int("learn.associations", inserted),
	)
	l.log.Debug("learned concept",
		"concept_id", id,
		"new", wasNew,
		"hint_id", hintID,
		"candidates", len(candidates),
		"associations", inserted,
		"warnings", len(it.Warnings),
		"source", item.Source,
		"chunk", item.ChunkIndex,
	)
}

// candidates returns the concepts sharing a word with content, plus the
// hint. The hint survives the MaxCandidates cut.
func (l *Learner) candidates(ctx context.Context, content, selfID, hintID string) ([]intelligence.Candidate, error) {
	ids := make(map[string]struct{})
	seenTerms := make(map[string]struct{})
	for _, w := range lexicon.Words(content) {
		if lexicon.IsStopWord(w) {
			continue
		}
		term := lexicon.Stem(w)
		if _, ok := seenTerms[term]; ok {
			continue
		}
		seenTerms[term] = struct{}{}
		found, err := l.store.FindByWord(ctx, w)
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			ids[id] = struct{}{}
		}
	}
	delete(ids, selfID)
	delete(ids, hintID)

	ordered := make([]string, 0, len(ids)+1)
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	if len(ordered) > l.cfg.MaxCandidates {
		ordered = ordered[:l.cfg.MaxCandidates]
	}
	if hintID != "" && hintID != selfID {
		ordered = append([]string{hintID}, ordered...)
	}

	out := make([]intelligence.Candidate, 0, len(ordered))
	for _, id := range ordered {
		c, err := l.store.GetConcept(ctx, id)
		if errors.Is(err, graph.ErrUnknownConcept) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, intelligence.Candidate{ID: c.ID, Content: c.Content})
	}
	return out, nil
}
