package protocol_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/protocol"
)

type randomizer struct {
	*rand.Rand
}

func (r randomizer) str() string {
	if r.Intn(4) == 0 {
		return ""
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyz éß漢"
	runes := []rune(alphabet)
	out := make([]rune, 1+r.Intn(12))
	for i := range out {
		out[i] = runes[r.Intn(len(runes))]
	}
	return string(out)
}

func (r randomizer) float() float64 {
	switch r.Intn(5) {
	case 0:
		return 0
	case 1:
		return 1
	}
	return r.NormFloat64() * 10
}

func (r randomizer) vector() []float64 {
	n := r.Intn(5)
	if n == 0 {
		return nil
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = r.float()
	}
	return v
}

func (r randomizer) time() time.Time {
	return time.Unix(r.Int63n(4e9)-1e9, r.Int63n(1e9)).UTC()
}

func (r randomizer) assocType() graph.AssociationType {
	return graph.AssociationTypes[r.Intn(len(graph.AssociationTypes))]
}

func (r randomizer) concept() *graph.Concept {
	return &graph.Concept{
		ID:             r.str(),
		Content:        r.str(),
		Strength:       r.Float64(),
		AccessCount:    r.Int63n(100),
		CreatedAt:      r.time(),
		LastAccessedAt: r.time(),
		Embedding:      r.vector(),
	}
}

func (r randomizer) association() graph.Association {
	return graph.Association{
		SourceID:   r.str(),
		TargetID:   r.str(),
		Type:       r.assocType(),
		Weight:     r.Float64(),
		Confidence: r.Float64(),
		CreatedAt:  r.time(),
		UpdatedAt:  r.time(),
	}
}

func (r randomizer) status() error {
	codes := []protocol.Code{protocol.CodeOK, protocol.CodeUnknownConcept, protocol.CodeEmbeddingUnavailable, protocol.CodeInternal}
	return codes[r.Intn(len(codes))].Err(r.str())
}

func (r randomizer) request() *protocol.Request {
	req := &protocol.Request{
		Op:             protocol.Opcode(1 + r.Intn(11)),
		ID:             r.Uint64(),
		IdempotencyKey: r.str(),
		ConceptID:      r.str(),
		Content:        r.str(),
		Vector:         r.vector(),
		Word:           r.str(),
		Query:          r.str(),
		SourceID:       r.str(),
		TargetID:       r.str(),
		Weight:         r.float(),
		Confidence:     r.float(),
		Limit:          r.Intn(50) - 5,
		MaxPaths:       r.Intn(10),
		MaxDepth:       r.Intn(10),
	}
	if r.Intn(2) == 0 {
		req.Type = r.assocType()
	}
	for i := r.Intn(3); i > 0; i-- {
		req.Types = append(req.Types, r.assocType())
	}
	for i := r.Intn(4); i > 0; i-- {
		req.Items = append(req.Items, graph.LearnItem{
			Content:      r.str(),
			Embedding:    r.vector(),
			RelationHint: r.str(),
			Source:       r.str(),
			ChunkIndex:   r.Intn(20) - 3,
		})
	}
	return req
}

func (r randomizer) response() *protocol.Response {
	resp := &protocol.Response{
		Op:        protocol.Opcode(1 + r.Intn(11)),
		ID:        r.Uint64(),
		Err:       r.status(),
		Merged:    r.Intn(2) == 0,
		ConceptID: r.str(),
		WasNew:    r.Intn(2) == 0,
	}
	for i := r.Intn(3); i > 0; i-- {
		it := graph.ItemResult{Index: r.Intn(10), ConceptID: r.str(), WasNew: r.Intn(2) == 0, Err: r.status()}
		for j := r.Intn(3); j > 0; j-- {
			if w := r.status(); w != nil {
				it.Warnings = append(it.Warnings, w)
			}
		}
		resp.Items = append(resp.Items, it)
	}
	if r.Intn(2) == 0 {
		resp.Concept = r.concept()
	}
	if r.Intn(2) == 0 {
		a := r.association()
		resp.Association = &a
	}
	for i := r.Intn(3); i > 0; i-- {
		n := graph.Neighbor{Association: r.association()}
		if r.Intn(3) > 0 {
			n.Concept = r.concept()
		}
		resp.Neighbors = append(resp.Neighbors, n)
	}
	for i := r.Intn(3); i > 0; i-- {
		resp.Scored = append(resp.Scored, graph.ScoredConcept{Concept: r.concept(), Score: r.float()})
	}
	for i := r.Intn(3); i > 0; i-- {
		p := graph.ReasoningPath{Confidence: r.Float64(), Explanation: r.str()}
		for j := r.Intn(4); j > 0; j-- {
			p.Steps = append(p.Steps, graph.ReasoningStep{SourceID: r.str(), Association: r.association(), TargetID: r.str()})
		}
		resp.Paths = append(resp.Paths, p)
	}
	if r.Intn(2) == 0 {
		resp.Health = &graph.HealthStatus{
			Status:       r.str(),
			Concepts:     r.Intn(1000),
			Associations: r.Intn(1000),
			Uptime:       time.Duration(r.Int63()),
			Version:      r.str(),
		}
	}
	for i := r.Intn(4); i > 0; i-- {
		resp.IDs = append(resp.IDs, r.str())
	}
	return resp
}

func TestRequestRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(request)) is the request", prop.ForAll(
		func(seed int64) string {
			want := randomizer{rand.New(rand.NewSource(seed))}.request()
			got, err := protocol.DecodeRequest(want.Encode())
			if err != nil {
				return err.Error()
			}
			if !assert.ObjectsAreEqual(want, got) {
				return fmt.Sprintf("want %+v, got %+v", want, got)
			}
			return ""
		},
		gen.Int64(),
	))
	properties.TestingRun(t)
}

func TestResponseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(response)) is the response", prop.ForAll(
		func(seed int64) string {
			want := randomizer{rand.New(rand.NewSource(seed))}.response()
			got, err := protocol.DecodeResponse(want.Encode())
			if err != nil {
				return err.Error()
			}
			if !assert.ObjectsAreEqual(want, got) {
				return fmt.Sprintf("want %+v, got %+v", want, got)
			}
			return ""
		},
		gen.Int64(),
	))
	properties.TestingRun(t)
}

func TestDecodeRequest_SkipsUnknownFields(t *testing.T) {
	f := (&protocol.Request{Op: protocol.OpGetConcept, ID: 9, ConceptID: "c1"}).Encode()
	f.Payload = protowire.AppendTag(f.Payload, 99, protowire.BytesType)
	f.Payload = protowire.AppendString(f.Payload, "from a newer client")
	f.Payload = protowire.AppendTag(f.Payload, 98, protowire.Fixed32Type)
	f.Payload = protowire.AppendFixed32(f.Payload, 7)

	req, err := protocol.DecodeRequest(f)
	require.NoError(t, err)
	assert.Equal(t, "c1", req.ConceptID)
}

func TestDecodeRequest_Rejects(t *testing.T) {
	_, err := protocol.DecodeRequest(protocol.Frame{Opcode: 0, Payload: nil})
	assert.ErrorIs(t, err, graph.ErrProtocol)

	// Field 2 (concept id) sent as a varint.
	payload := protowire.AppendTag(nil, 2, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 5)
	_, err = protocol.DecodeRequest(protocol.Frame{Opcode: protocol.OpGetConcept, Payload: payload})
	assert.ErrorIs(t, err, graph.ErrProtocol)

	// Truncated bytes field.
	payload = protowire.AppendTag(nil, 2, protowire.BytesType)
	payload = protowire.AppendVarint(payload, 10)
	_, err = protocol.DecodeRequest(protocol.Frame{Opcode: protocol.OpGetConcept, Payload: append(payload, 'x')})
	assert.ErrorIs(t, err, graph.ErrProtocol)
}

func TestStatusErrorsCrossTheWire(t *testing.T) {
	cause := graph.NewOpError("GetConcept", fmt.Errorf("%w: c42", graph.ErrUnknownConcept))
	resp := &protocol.Response{Op: protocol.OpGetConcept, ID: 1, Err: cause}

	got, err := protocol.DecodeResponse(resp.Encode())
	require.NoError(t, err)
	assert.ErrorIs(t, got.Err, graph.ErrUnknownConcept)
	assert.Equal(t, cause.Error(), got.Err.Error())

	var se *protocol.StatusError
	require.True(t, errors.As(got.Err, &se))
	assert.Equal(t, protocol.CodeUnknownConcept, se.Code)

	assert.Equal(t, protocol.CodeInternal, protocol.CodeOf(errors.New("boom")))
	assert.Nil(t, protocol.CodeOK.Err("ignored"))
}
