package protocol

import (
	"time"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

func writeConcept(w *writer, c *graph.Concept) {
	w.string(1, c.ID)
	w.string(2, c.Content)
	w.double(3, c.Strength)
	w.sint(4, c.AccessCount)
	w.time(5, c.CreatedAt)
	w.time(7, c.LastAccessedAt)
	w.doubles(9, c.Embedding)
}

func readConcept(r *reader) *graph.Concept {
	return &graph.Concept{
		ID:             r.string(1),
		Content:        r.string(2),
		Strength:       r.double(3),
		AccessCount:    r.sint(4),
		CreatedAt:      r.time(5),
		LastAccessedAt: r.time(7),
		Embedding:      r.doubles(9),
	}
}

func writeAssociation(w *writer, a *graph.Association) {
	w.string(1, a.SourceID)
	w.string(2, a.TargetID)
	w.string(3, string(a.Type))
	w.double(4, a.Weight)
	w.double(5, a.Confidence)
	w.time(6, a.CreatedAt)
	w.time(8, a.UpdatedAt)
}

func readAssociation(r *reader) graph.Association {
	return graph.Association{
		SourceID:   r.string(1),
		TargetID:   r.string(2),
		Type:       graph.AssociationType(r.string(3)),
		Weight:     r.double(4),
		Confidence: r.double(5),
		CreatedAt:  r.time(6),
		UpdatedAt:  r.time(8),
	}
}

func writeScored(w *writer, sc graph.ScoredConcept) {
	if sc.Concept != nil {
		w.message(1, func(w *writer) { writeConcept(w, sc.Concept) })
	}
	w.double(2, sc.Score)
}

func readScored(r *reader) graph.ScoredConcept {
	sc := graph.ScoredConcept{Score: r.double(2)}
	if m := r.message(1); m != nil {
		sc.Concept = readConcept(m)
		r.absorb(m)
	}
	return sc
}

func writeNeighbor(w *writer, n graph.Neighbor) {
	w.message(1, func(w *writer) { writeAssociation(w, &n.Association) })
	if n.Concept != nil {
		w.message(2, func(w *writer) { writeConcept(w, n.Concept) })
	}
}

func readNeighbor(r *reader) graph.Neighbor {
	var n graph.Neighbor
	if m := r.message(1); m != nil {
		n.Association = readAssociation(m)
		r.absorb(m)
	}
	if m := r.message(2); m != nil {
		n.Concept = readConcept(m)
		r.absorb(m)
	}
	return n
}

func writePath(w *writer, p graph.ReasoningPath) {
	for _, s := range p.Steps {
		w.message(1, func(w *writer) {
			w.string(1, s.SourceID)
			w.message(2, func(w *writer) { writeAssociation(w, &s.Association) })
			w.string(3, s.TargetID)
		})
	}
	w.double(2, p.Confidence)
	w.string(3, p.Explanation)
}

func readPath(r *reader) graph.ReasoningPath {
	p := graph.ReasoningPath{
		Confidence:  r.double(2),
		Explanation: r.string(3),
	}
	for _, m := range r.messages(1) {
		step := graph.ReasoningStep{SourceID: m.string(1), TargetID: m.string(3)}
		if am := m.message(2); am != nil {
			step.Association = readAssociation(am)
			m.absorb(am)
		}
		r.absorb(m)
		p.Steps = append(p.Steps, step)
	}
	return p
}

func writeLearnItem(w *writer, it *graph.LearnItem) {
	w.string(1, it.Content)
	w.doubles(2, it.Embedding)
	w.string(3, it.RelationHint)
	w.string(4, it.Source)
	w.sint(5, int64(it.ChunkIndex))
}

func readLearnItem(r *reader) graph.LearnItem {
	return graph.LearnItem{
		Content:      r.string(1),
		Embedding:    r.doubles(2),
		RelationHint: r.string(3),
		Source:       r.string(4),
		ChunkIndex:   int(r.sint(5)),
	}
}

func writeStatus(w *writer, err error) {
	w.uint(1, uint64(CodeOf(err)))
	w.string(2, errMessage(err))
}

func readStatus(r *reader) error {
	return Code(r.uint(1)).Err(r.string(2))
}

func writeItemResult(w *writer, it *graph.ItemResult) {
	w.sint(1, int64(it.Index))
	w.string(2, it.ConceptID)
	w.bool(3, it.WasNew)
	if it.Err != nil {
		w.message(4, func(w *writer) { writeStatus(w, it.Err) })
	}
	for _, warn := range it.Warnings {
		w.message(5, func(w *writer) { writeStatus(w, warn) })
	}
}

func readItemResult(r *reader) graph.ItemResult {
	it := graph.ItemResult{
		Index:     int(r.sint(1)),
		ConceptID: r.string(2),
		WasNew:    r.bool(3),
	}
	if m := r.message(4); m != nil {
		it.Err = readStatus(m)
		r.absorb(m)
	}
	for _, m := range r.messages(5) {
		it.Warnings = append(it.Warnings, readStatus(m))
		r.absorb(m)
	}
	return it
}

func writeHealth(w *writer, h *graph.HealthStatus) {
	w.string(1, h.Status)
	w.sint(2, int64(h.Concepts))
	w.sint(3, int64(h.Associations))
	w.sint(4, int64(h.Uptime))
	w.string(5, h.Version)
}

func readHealth(r *reader) *graph.HealthStatus {
	return &graph.HealthStatus{
		Status:       r.string(1),
		Concepts:     int(r.sint(2)),
		Associations: int(r.sint(3)),
		Uptime:       time.Duration(r.sint(4)),
		Version:      r.string(5),
	}
}
