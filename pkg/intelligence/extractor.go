package intelligence

import (
	"sort"
	"strings"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
)

// ExtractorConfig contains the thresholds of the association extractor.
type ExtractorConfig struct {
	// HintConfidence is the confidence of the edge forced by a relation hint.
	HintConfidence float64 `json:"hint_confidence" yaml:"hint_confidence"`

	// CopulaConfidence is the confidence of edges read from "X is Y" statements.
	CopulaConfidence float64 `json:"copula_confidence" yaml:"copula_confidence"`

	// SemanticThreshold is the word overlap at or above which an edge is semantic.
	SemanticThreshold float64 `json:"semantic_threshold" yaml:"semantic_threshold"`

	// MinConfidence is the word overlap below which no edge is produced.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// WeightScale maps confidence to weight before clamping into [0, 1].
	WeightScale float64 `json:"weight_scale" yaml:"weight_scale"`
}

// DefaultExtractorConfig returns the default extractor thresholds.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		HintConfidence:    0.9,
		CopulaConfidence:  0.85,
		SemanticThreshold: 0.5,
		MinConfidence:     0.1,
		WeightScale:       1.0,
	}
}

// Candidate is an existing concept the new content may be associated with.
type Candidate struct {
	ID      string
	Content string
}

// ExtractRequest is the input of Extract.
type ExtractRequest struct {
	// ConceptID is the id of the concept the content was stored under.
	ConceptID string

	// Content is the newly learned text.
	Content string

	// HintID is the id of the relation hint concept, empty without a hint.
	// It must also appear in Candidates.
	HintID string

	// Candidates are the only concepts edges may point at.
	Candidates []Candidate
}

// Extracted is one candidate association.
type Extracted struct {
	SourceID   string
	TargetID   string
	Type       graph.AssociationType
	Weight     float64
	Confidence float64
}

// cue is a word sequence that types an overlap edge.
type cue struct {
	phrase string
	typ    graph.AssociationType
	// backward edges run from the candidate to the new concept.
	backward bool
}

// Causal cues come first so that "because ... then" reads as causal.
var cues = []cue{
	{"because", graph.Causal, true},
	{"due to", graph.Causal, true},
	{"caused by", graph.Causal, true},
	{"causes", graph.Causal, false},
	{"cause", graph.Causal, false},
	{"leads to", graph.Causal, false},
	{"lead to", graph.Causal, false},
	{"results in", graph.Causal, false},
	{"result in", graph.Causal, false},
	{"therefore", graph.Causal, false},
	{"after", graph.Temporal, true},
	{"before", graph.Temporal, false},
	{"then", graph.Temporal, false},
	{"during", graph.Temporal, false},
	{"while", graph.Temporal, false},
	{"when", graph.Temporal, false},
	{"until", graph.Temporal, false},
}

var copulas = map[string]struct{}{"is": {}, "are": {}, "was": {}, "were": {}}

var articles = map[string]struct{}{"a": {}, "an": {}, "the": {}}

// Extractor turns new content plus candidate neighbours into associations
// using lexical heuristics. It is deterministic and never invents concepts:
// every returned endpoint is the new concept or one of the candidates.
//
// Example usage:
//
//	ex := NewExtractor(DefaultExtractorConfig())
//	edges := ex.Extract(ExtractRequest{ConceptID: id, Content: text, Candidates: cands})
type Extractor struct {
	cfg ExtractorConfig
}

// NewExtractor creates an extractor. Zero fields of cfg take their defaults.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	def := DefaultExtractorConfig()
	if cfg.HintConfidence <= 0 {
		cfg.HintConfidence = def.HintConfidence
	}
	if cfg.CopulaConfidence <= 0 {
		cfg.CopulaConfidence = def.CopulaConfidence
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = def.SemanticThreshold
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.WeightScale <= 0 {
		cfg.WeightScale = def.WeightScale
	}
	return &Extractor{cfg: cfg}
}

// Extract returns candidate associations sorted by source, target and type.
// When several heuristics produce the same edge the highest confidence wins.
func (e *Extractor) Extract(req ExtractRequest) []Extracted {
	candidates := make(map[string]Candidate, len(req.Candidates))
	for _, c := range req.Candidates {
		if c.ID == "" || c.ID == req.ConceptID {
			continue
		}
		candidates[c.ID] = c
	}
	if len(candidates) == 0 || req.ConceptID == "" {
		return nil
	}

	hintID := ""
	if _, ok := candidates[req.HintID]; ok {
		hintID = req.HintID
	}

	edges := make(map[graph.AssociationKey]float64)
	add := func(src, dst string, typ graph.AssociationType, confidence float64) {
		if src == dst {
			return
		}
		key := graph.AssociationKey{SourceID: src, TargetID: dst, Type: typ}
		if confidence > edges[key] {
			edges[key] = confidence
		}
	}

	// 1. The relation hint forces a hierarchical edge.
	if hintID != "" {
		add(req.ConceptID, hintID, graph.Hierarchical, e.cfg.HintConfidence)
	}

	words := lexicon.Words(req.Content)

	// 2. "S is O": the candidate naming S belongs to the hint category and
	// the new concept belongs to the candidate naming O.
	if subject, object, ok := splitCopula(words); ok {
		subjectTerms := lexicon.TermSet(strings.Join(subject, " "))
		objectTerms := lexicon.TermSet(strings.Join(object, " "))
		for _, id := range sortedCandidateIDs(candidates) {
			terms := lexicon.TermSet(candidates[id].Content)
			if hintID != "" && id != hintID && lexicon.SameTerms(terms, subjectTerms) {
				add(id, hintID, graph.Hierarchical, e.cfg.CopulaConfidence)
			}
			if lexicon.SameTerms(terms, objectTerms) {
				add(req.ConceptID, id, graph.Hierarchical, e.cfg.CopulaConfidence)
			}
		}
	}

	// 3 and 4. Word overlap, typed by cue words when present.
	newTerms := lexicon.TermSet(req.Content)
	found := findCue(words)
	for _, id := range sortedCandidateIDs(candidates) {
		overlap := lexicon.Overlap(newTerms, lexicon.TermSet(candidates[id].Content))
		if overlap < e.cfg.MinConfidence {
			continue
		}
		switch {
		case found != nil && found.backward:
			add(id, req.ConceptID, found.typ, overlap)
		case found != nil:
			add(req.ConceptID, id, found.typ, overlap)
		case overlap >= e.cfg.SemanticThreshold:
			add(req.ConceptID, id, graph.Semantic, overlap)
		default:
			add(req.ConceptID, id, graph.CoOccurrence, overlap)
		}
	}

	out := make([]Extracted, 0, len(edges))
	for key, confidence := range edges {
		out = append(out, Extracted{
			SourceID:   key.SourceID,
			TargetID:   key.TargetID,
			Type:       key.Type,
			Weight:     clamp01(confidence * e.cfg.WeightScale),
			Confidence: clamp01(confidence),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// splitCopula splits "subject is|are [article] object" at the first copula.
func splitCopula(words []string) (subject, object []string, ok bool) {
	for i, w := range words {
		if _, isCopula := copulas[w]; !isCopula {
			continue
		}
		if i == 0 || i == len(words)-1 {
			return nil, nil, false
		}
		object = words[i+1:]
		if _, isArticle := articles[object[0]]; isArticle {
			object = object[1:]
		}
		if len(object) == 0 {
			return nil, nil, false
		}
		return words[:i], object, true
	}
	return nil, nil, false
}

// findCue returns the first cue in cue-list order that occurs in words.
func findCue(words []string) *cue {
	text := " " + strings.Join(words, " ") + " "
	for i := range cues {
		if strings.Contains(text, " "+cues[i].phrase+" ") {
			return &cues[i]
		}
	}
	return nil
}

func sortedCandidateIDs(candidates map[string]Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
