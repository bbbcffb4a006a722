package protocol

import (
	"fmt"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Request is the logical content of a request frame. Each opcode reads the
// fields it needs:
//
//	LEARN               Items[0]
//	LEARN_BATCH         Items
//	GET_CONCEPT         ConceptID
//	INSERT_ASSOCIATION  SourceID, TargetID, Type, Weight, Confidence
//	NEIGHBORS           ConceptID, Types
//	SEARCH              Query, Limit
//	ASK                 Query, MaxPaths, MaxDepth
//	HEALTH              -
//	UPSERT_CONCEPT      Content, Vector
//	FIND_BY_WORD        Word
//	SIMILAR_CONCEPTS    Vector, Limit
//
// Writes also carry IdempotencyKey.
type Request struct {
	Op             Opcode
	ID             uint64
	IdempotencyKey string

	Items      []graph.LearnItem
	ConceptID  string
	Content    string
	Vector     []float64
	Word       string
	Query      string
	SourceID   string
	TargetID   string
	Type       graph.AssociationType
	Types      []graph.AssociationType
	Weight     float64
	Confidence float64
	Limit      int
	MaxPaths   int
	MaxDepth   int
}

// Request field numbers.
const (
	reqItems          = 1
	reqConceptID      = 2
	reqContent        = 3
	reqVector         = 4
	reqWord           = 5
	reqQuery          = 6
	reqSourceID       = 7
	reqTargetID       = 8
	reqType           = 9
	reqTypes          = 10
	reqWeight         = 11
	reqConfidence     = 12
	reqLimit          = 13
	reqMaxPaths       = 14
	reqIdempotencyKey = 15
	reqMaxDepth       = 16
)

// Encode returns the request as a frame.
func (r *Request) Encode() Frame {
	var w writer
	for i := range r.Items {
		w.message(reqItems, func(w *writer) { writeLearnItem(w, &r.Items[i]) })
	}
	w.string(reqConceptID, r.ConceptID)
	w.string(reqContent, r.Content)
	w.doubles(reqVector, r.Vector)
	w.string(reqWord, r.Word)
	w.string(reqQuery, r.Query)
	w.string(reqSourceID, r.SourceID)
	w.string(reqTargetID, r.TargetID)
	w.string(reqType, string(r.Type))
	for _, t := range r.Types {
		w.string(reqTypes, string(t))
	}
	w.double(reqWeight, r.Weight)
	w.double(reqConfidence, r.Confidence)
	w.sint(reqLimit, int64(r.Limit))
	w.sint(reqMaxPaths, int64(r.MaxPaths))
	w.string(reqIdempotencyKey, r.IdempotencyKey)
	w.sint(reqMaxDepth, int64(r.MaxDepth))
	return Frame{Opcode: r.Op, RequestID: r.ID, Payload: w.b}
}

// DecodeRequest parses a request frame. Unknown opcodes and malformed
// payloads fail with graph.ErrProtocol.
func DecodeRequest(f Frame) (*Request, error) {
	if !f.Opcode.Valid() {
		return nil, fmt.Errorf("%w: unknown opcode %d", graph.ErrProtocol, uint8(f.Opcode))
	}
	rd, err := parse(f.Payload)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Op:             f.Opcode,
		ID:             f.RequestID,
		IdempotencyKey: rd.string(reqIdempotencyKey),
		ConceptID:      rd.string(reqConceptID),
		Content:        rd.string(reqContent),
		Vector:         rd.doubles(reqVector),
		Word:           rd.string(reqWord),
		Query:          rd.string(reqQuery),
		SourceID:       rd.string(reqSourceID),
		TargetID:       rd.string(reqTargetID),
		Type:           graph.AssociationType(rd.string(reqType)),
		Weight:         rd.double(reqWeight),
		Confidence:     rd.double(reqConfidence),
		Limit:          int(rd.sint(reqLimit)),
		MaxPaths:       int(rd.sint(reqMaxPaths)),
		MaxDepth:       int(rd.sint(reqMaxDepth)),
	}
	for _, m := range rd.messages(reqItems) {
		req.Items = append(req.Items, readLearnItem(m))
		rd.absorb(m)
	}
	for _, t := range rd.strings(reqTypes) {
		req.Types = append(req.Types, graph.AssociationType(t))
	}
	if rd.err != nil {
		return nil, rd.err
	}
	return req, nil
}

// Response is the logical content of a response frame. Status fields come
// first; the body fields an opcode fills mirror its request:
//
//	LEARN               Items[0]
//	LEARN_BATCH         Items
//	GET_CONCEPT         Concept
//	INSERT_ASSOCIATION  Association, Merged
//	NEIGHBORS           Neighbors
//	SEARCH              Scored
//	ASK                 Paths
//	HEALTH              Health
//	UPSERT_CONCEPT      ConceptID, WasNew
//	FIND_BY_WORD        IDs
//	SIMILAR_CONCEPTS    Scored
//
// A failed response may still carry a body, as ASK does when it was
// cancelled after confirming some paths.
type Response struct {
	Op Opcode
	ID uint64

	// Err is the operation error; nil encodes as CodeOK.
	Err error

	Items       []graph.ItemResult
	Concept     *graph.Concept
	Association *graph.Association
	Merged      bool
	Neighbors   []graph.Neighbor
	Scored      []graph.ScoredConcept
	Paths       []graph.ReasoningPath
	Health      *graph.HealthStatus
	ConceptID   string
	WasNew      bool
	IDs         []string
}

// Response field numbers. Bodies start at 16.
const (
	respCode        = 1
	respMessage     = 2
	respItems       = 16
	respConcept     = 17
	respAssociation = 18
	respMerged      = 19
	respNeighbors   = 20
	respScored      = 21
	respPaths       = 22
	respHealth      = 23
	respConceptID   = 24
	respWasNew      = 25
	respIDs         = 26
)

// Encode returns the response as a frame.
func (r *Response) Encode() Frame {
	var w writer
	writeStatus(&w, r.Err)
	for i := range r.Items {
		w.message(respItems, func(w *writer) { writeItemResult(w, &r.Items[i]) })
	}
	if r.Concept != nil {
		w.message(respConcept, func(w *writer) { writeConcept(w, r.Concept) })
	}
	if r.Association != nil {
		w.message(respAssociation, func(w *writer) { writeAssociation(w, r.Association) })
	}
	w.bool(respMerged, r.Merged)
	for _, n := range r.Neighbors {
		w.message(respNeighbors, func(w *writer) { writeNeighbor(w, n) })
	}
	for _, sc := range r.Scored {
		w.message(respScored, func(w *writer) { writeScored(w, sc) })
	}
	for _, p := range r.Paths {
		w.message(respPaths, func(w *writer) { writePath(w, p) })
	}
	if r.Health != nil {
		w.message(respHealth, func(w *writer) { writeHealth(w, r.Health) })
	}
	w.string(respConceptID, r.ConceptID)
	w.bool(respWasNew, r.WasNew)
	w.strings(respIDs, r.IDs)
	return Frame{Opcode: r.Op, RequestID: r.ID, Payload: w.b}
}

// DecodeResponse parses a response frame.
func DecodeResponse(f Frame) (*Response, error) {
	rd, err := parse(f.Payload)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		Op:        f.Opcode,
		ID:        f.RequestID,
		Err:       readStatus(rd),
		Merged:    rd.bool(respMerged),
		ConceptID: rd.string(respConceptID),
		WasNew:    rd.bool(respWasNew),
		IDs:       rd.strings(respIDs),
	}
	for _, m := range rd.messages(respItems) {
		resp.Items = append(resp.Items, readItemResult(m))
		rd.absorb(m)
	}
	if m := rd.message(respConcept); m != nil {
		resp.Concept = readConcept(m)
		rd.absorb(m)
	}
	if m := rd.message(respAssociation); m != nil {
		a := readAssociation(m)
		resp.Association = &a
		rd.absorb(m)
	}
	for _, m := range rd.messages(respNeighbors) {
		resp.Neighbors = append(resp.Neighbors, readNeighbor(m))
		rd.absorb(m)
	}
	for _, m := range rd.messages(respScored) {
		resp.Scored = append(resp.Scored, readScored(m))
		rd.absorb(m)
	}
	for _, m := range rd.messages(respPaths) {
		resp.Paths = append(resp.Paths, readPath(m))
		rd.absorb(m)
	}
	if m := rd.message(respHealth); m != nil {
		resp.Health = readHealth(m)
		rd.absorb(m)
	}
	if rd.err != nil {
		return nil, rd.err
	}
	return resp, nil
}
