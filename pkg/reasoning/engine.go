// Package reasoning answers queries by searching the concept graph for
// confidence-ranked chains of associations.
//
// Ask seeds the search with the concepts most relevant to the query, scored
// by a weighted sum of embedding similarity and lexical coverage, and then
// runs a bounded best-first search outward from them. Reasoning never writes
// to the store.
package reasoning

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
)

var tracer = otel.Tracer("conceptgraph.reasoning")

// Embedder is the part of the embedding cache the engine needs.
type Embedder interface {
	GetOrCompute(ctx context.Context, text string) ([]float64, error)
}

// Config contains configuration for the reasoning engine.
type Config struct {
	// SemanticWeight weighs embedding similarity in seed relevance.
	SemanticWeight float64 `json:"semantic_weight" yaml:"semantic_weight"`

	// LexicalWeight weighs query term coverage in seed relevance.
	LexicalWeight float64 `json:"lexical_weight" yaml:"lexical_weight"`

	// SeedCount is the number of seeds a search starts from.
	SeedCount int `json:"seed_count" yaml:"seed_count"`

	// MinSeedRelevance is the relevance a concept must exceed to seed.
	MinSeedRelevance float64 `json:"min_seed_relevance" yaml:"min_seed_relevance"`

	// MinConfidence drops partial paths whose confidence falls below it.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// MaxExpansions bounds the number of concepts expanded per query.
	MaxExpansions int `json:"max_expansions" yaml:"max_expansions"`

	// Timeout bounds the search of one query.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// DefaultMaxPaths and DefaultMaxDepth apply when Ask gets zero.
	DefaultMaxPaths int `json:"default_max_paths" yaml:"default_max_paths"`
	DefaultMaxDepth int `json:"default_max_depth" yaml:"default_max_depth"`
}

// DefaultConfig returns the default reasoning configuration.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:   0.6,
		LexicalWeight:    0.4,
		SeedCount:        5,
		MinSeedRelevance: 0.1,
		MinConfidence:    0.01,
		MaxExpansions:    10000,
		Timeout:          5 * time.Second,
		DefaultMaxPaths:  5,
		DefaultMaxDepth:  3,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SemanticWeight == 0 && c.LexicalWeight == 0 {
		c.SemanticWeight, c.LexicalWeight = def.SemanticWeight, def.LexicalWeight
	}
	if c.SeedCount <= 0 {
		c.SeedCount = def.SeedCount
	}
	if c.MaxExpansions <= 0 {
		c.MaxExpansions = def.MaxExpansions
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.DefaultMaxPaths <= 0 {
		c.DefaultMaxPaths = def.DefaultMaxPaths
	}
	if c.DefaultMaxDepth <= 0 {
		c.DefaultMaxDepth = def.DefaultMaxDepth
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine answers queries against a concept store.
type Engine struct {
	store graph.Reader
	embed Embedder
	cfg   Config
	log   *logger.Logger
}

// New creates an engine reading from store.
func New(store graph.Reader, embed Embedder, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil || embed == nil {
		return nil, fmt.Errorf("%w: reasoning engine needs a store and an embedder", graph.ErrInvalidInput)
	}
	cfg.applyDefaults()
	e := &Engine{store: store, embed: embed, cfg: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SearchConcepts returns up to limit concepts ranked by relevance to query.
func (e *Engine) SearchConcepts(ctx context.Context, query string, limit int) ([]graph.ScoredConcept, error) {
	ctx, span := tracer.Start(ctx, "reasoning.SearchConcepts",
		trace.WithAttributes(attribute.Int("search.limit", limit)))
	defer span.End()

	if limit <= 0 {
		limit = e.cfg.SeedCount
	}
	scored, err := e.rank(ctx, query, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, graph.NewOpError("SearchConcepts", err)
	}
	out := scored[:0]
	for _, sc := range scored {
		if sc.Score > 0 {
			out = append(out, sc)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	span.SetAttributes(attribute.Int("search.results", len(out)))
	return out, nil
}

// Ask returns up to maxPaths reasoning paths of at most maxDepth steps
// starting at the concepts most relevant to query. Paths are sorted by
// confidence, then by length, then by terminal concept id, and no two paths
// end at the same concept.
//
// Exhausting the expansion budget or the engine timeout is not an error:
// the paths confirmed so far are returned. Cancellation of ctx returns the
// confirmed paths together with the context error.
func (e *Engine) Ask(ctx context.Context, query string, maxPaths, maxDepth int) ([]graph.ReasoningPath, error) {
	if maxPaths <= 0 {
		maxPaths = e.cfg.DefaultMaxPaths
	}
	if maxDepth <= 0 {
		maxDepth = e.cfg.DefaultMaxDepth
	}

	ctx, span := tracer.Start(ctx, "reasoning.Ask", trace.WithAttributes(
		attribute.Int("ask.max_paths", maxPaths),
		attribute.Int("ask.max_depth", maxDepth),
	))
	defer span.End()

	seeds, err := e.rank(ctx, query, e.cfg.SeedCount)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, graph.NewOpError("Ask", err)
	}
	kept := seeds[:0]
	for _, s := range seeds {
		if s.Score > e.cfg.MinSeedRelevance {
			kept = append(kept, s)
		}
	}
	seeds = kept
	if len(seeds) > e.cfg.SeedCount {
		seeds = seeds[:e.cfg.SeedCount]
	}
	span.SetAttributes(attribute.Int("ask.seeds", len(seeds)))
	if len(seeds) == 0 {
		return nil, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	s := newSearch(e.store, e.cfg, maxPaths, maxDepth)
	paths, err := s.run(searchCtx, seeds)
	span.SetAttributes(
		attribute.Int("ask.paths", len(paths)),
		attribute.Int("ask.expansions", s.expansions),
		attribute.Bool("ask.exhausted", s.exhausted),
	)
	if s.exhausted {
		e.log.Debug("reasoning budget exhausted", "expansions", s.expansions, "paths", len(paths))
	}
	if err != nil {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			return paths, graph.NewOpError("Ask", ctx.Err())
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			span.SetStatus(codes.Error, err.Error())
			return paths, graph.NewOpError("Ask", err)
		}
		e.log.Debug("reasoning timed out", "timeout", e.cfg.Timeout, "paths", len(paths))
	}
	return paths, nil
}

// rank scores the union of lexical and embedding candidates by relevance.
// The result is sorted by score descending, then id, and is not truncated.
func (e *Engine) rank(ctx context.Context, query string, seedCount int) ([]graph.ScoredConcept, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", graph.ErrInvalidInput)
	}
	vector, err := e.embed.GetOrCompute(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*graph.Concept)
	similar, err := e.store.SimilarConcepts(ctx, vector, seedCount*4)
	if err != nil {
		return nil, err
	}
	for _, sc := range similar {
		candidates[sc.Concept.ID] = sc.Concept
	}

	queryTerms := lexicon.TermSet(query)
	for _, w := range lexicon.Words(query) {
		if lexicon.IsStopWord(w) {
			continue
		}
		ids, err := e.store.FindByWord(ctx, w)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := candidates[id]; ok {
				continue
			}
			c, err := e.store.GetConcept(ctx, id)
			if errors.Is(err, graph.ErrUnknownConcept) {
				continue
			}
			if err != nil {
				return nil, err
			}
			candidates[id] = c
		}
	}

	scored := make([]graph.ScoredConcept, 0, len(candidates))
	for _, c := range candidates {
		relevance := e.cfg.SemanticWeight*graph.CosineSimilarity(vector, c.Embedding) +
			e.cfg.LexicalWeight*lexicon.Coverage(queryTerms, lexicon.TermSet(c.Content))
		scored = append(scored, graph.ScoredConcept{Concept: c, Score: relevance})
	}
	graph.SortScored(scored)
	return scored, nil
}

// node is a partial path on the search frontier.
type node struct {
	id         string
	steps      []graph.ReasoningStep
	confidence float64
}

// frontier is a max-heap on confidence, then fewer steps, then smaller id.
type frontier []*node

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].confidence != f[j].confidence {
		return f[i].confidence > f[j].confidence
	}
	if len(f[i].steps) != len(f[j].steps) {
		return len(f[i].steps) < len(f[j].steps)
	}
	return f[i].id < f[j].id
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x interface{}) {
	*f = append(*f, x.(*node))
}

func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}

type search struct {
	store    graph.Reader
	cfg      Config
	maxPaths int
	maxDepth int

	contents   map[string]string
	confirmed  map[string]struct{}
	expandedAt map[string]int
	expansions int
	exhausted  bool
}

func newSearch(store graph.Reader, cfg Config, maxPaths, maxDepth int) *search {
	return &search{
		store:      store,
		cfg:        cfg,
		maxPaths:   maxPaths,
		maxDepth:   maxDepth,
		contents:   make(map[string]string),
		confirmed:  make(map[string]struct{}),
		expandedAt: make(map[string]int),
	}
}

// run pops partial paths best first. Scores never exceed 1, so confidence
// never grows along a path and the first pop of a terminal is its best path.
// A concept is expanded again when it is popped with fewer steps than its
// last expansion: the later pop has lower confidence but more depth left.
func (s *search) run(ctx context.Context, seeds []graph.ScoredConcept) ([]graph.ReasoningPath, error) {
	f := &frontier{}
	for _, seed := range seeds {
		s.contents[seed.Concept.ID] = seed.Concept.Content
		heap.Push(f, &node{id: seed.Concept.ID, confidence: 1})
	}

	var paths []graph.ReasoningPath
	for f.Len() > 0 && len(paths) < s.maxPaths {
		if err := ctx.Err(); err != nil {
			return sortPaths(paths), err
		}
		n := heap.Pop(f).(*node)

		if len(n.steps) > 0 {
			if _, done := s.confirmed[n.id]; !done {
				s.confirmed[n.id] = struct{}{}
				paths = append(paths, s.path(n))
				if len(paths) >= s.maxPaths {
					break
				}
			}
		}

		if len(n.steps) >= s.maxDepth || s.exhausted {
			continue
		}
		if at, done := s.expandedAt[n.id]; done && len(n.steps) >= at {
			continue
		}
		if s.expansions >= s.cfg.MaxExpansions {
			s.exhausted = true
			continue
		}
		s.expandedAt[n.id] = len(n.steps)
		s.expansions++

		neighbors, err := s.store.NeighborsOf(ctx, n.id)
		if err != nil {
			if errors.Is(err, graph.ErrUnknownConcept) {
				continue
			}
			return sortPaths(paths), err
		}
		for _, nb := range neighbors {
			target := nb.Association.TargetID
			if onPath(n, target) {
				continue
			}
			confidence := n.confidence * nb.Association.Weight * nb.Concept.Strength
			if confidence < s.cfg.MinConfidence || confidence <= 0 {
				continue
			}
			s.contents[target] = nb.Concept.Content
			steps := make([]graph.ReasoningStep, len(n.steps), len(n.steps)+1)
			copy(steps, n.steps)
			steps = append(steps, graph.ReasoningStep{
				SourceID:    n.id,
				Association: nb.Association,
				TargetID:    target,
			})
			heap.Push(f, &node{id: target, steps: steps, confidence: confidence})
		}
	}
	return sortPaths(paths), nil
}

func onPath(n *node, id string) bool {
	if len(n.steps) == 0 {
		return n.id == id
	}
	if n.steps[0].SourceID == id {
		return true
	}
	for _, st := range n.steps {
		if st.TargetID == id {
			return true
		}
	}
	return false
}

func (s *search) path(n *node) graph.ReasoningPath {
	var b strings.Builder
	b.WriteString(s.contents[n.steps[0].SourceID])
	for _, st := range n.steps {
		fmt.Fprintf(&b, " -[%s w=%.2f]-> %s", st.Association.Type, st.Association.Weight, s.contents[st.TargetID])
	}
	return graph.ReasoningPath{
		Steps:       n.steps,
		Confidence:  n.confidence,
		Explanation: b.String(),
	}
}

// sortPaths orders by confidence descending, then steps, then terminal id.
func sortPaths(paths []graph.ReasoningPath) []graph.ReasoningPath {
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Confidence != paths[j].Confidence {
			return paths[i].Confidence > paths[j].Confidence
		}
		if paths[i].Len() != paths[j].Len() {
			return paths[i].Len() < paths[j].Len()
		}
		return paths[i].Terminal() < paths[j].Terminal()
	})
	return paths
}
