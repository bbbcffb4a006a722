// Package protocol implements the concept-graph wire protocol.
//
// A frame is [4-byte length][1-byte opcode][8-byte request id][payload],
// big endian, where length counts everything after itself. Payloads are
// protobuf-wire encoded messages without a schema: every field carries its
// tag and wire type, and decoders skip fields they do not know.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Opcode selects the operation of a frame. Responses echo the opcode of
// their request.
type Opcode uint8

const (
	OpLearn             Opcode = 1
	OpLearnBatch        Opcode = 2
	OpGetConcept        Opcode = 3
	OpInsertAssociation Opcode = 4
	OpNeighbors         Opcode = 5
	OpSearch            Opcode = 6
	OpAsk               Opcode = 7
	OpHealth            Opcode = 8
	OpUpsertConcept     Opcode = 9
	OpFindByWord        Opcode = 10
	OpSimilarConcepts   Opcode = 11
)

var opNames = map[Opcode]string{
	OpLearn:             "LEARN",
	OpLearnBatch:        "LEARN_BATCH",
	OpGetConcept:        "GET_CONCEPT",
	OpInsertAssociation: "INSERT_ASSOCIATION",
	OpNeighbors:         "NEIGHBORS",
	OpSearch:            "SEARCH",
	OpAsk:               "ASK",
	OpHealth:            "HEALTH",
	OpUpsertConcept:     "UPSERT_CONCEPT",
	OpFindByWord:        "FIND_BY_WORD",
	OpSimilarConcepts:   "SIMILAR_CONCEPTS",
}

func (o Opcode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(%d)", uint8(o))
}

// Valid reports whether o is a known opcode.
func (o Opcode) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// IsWrite reports whether the operation mutates the graph. Writes carry an
// idempotency key and are never retried automatically.
func (o Opcode) IsWrite() bool {
	switch o {
	case OpLearn, OpLearnBatch, OpInsertAssociation, OpUpsertConcept:
		return true
	}
	return false
}

const (
	lengthSize = 4
	headerSize = 1 + 8

	// MaxFrameSize bounds the length field of a frame.
	MaxFrameSize = 16 << 20
)

// Frame is one protocol message.
type Frame struct {
	Opcode    Opcode
	RequestID uint64
	Payload   []byte
}

// AppendFrame appends the encoded frame to b.
func AppendFrame(b []byte, f Frame) ([]byte, error) {
	n := headerSize + len(f.Payload)
	if n > MaxFrameSize {
		return b, fmt.Errorf("%w: frame of %d bytes exceeds %d", graph.ErrProtocol, n, MaxFrameSize)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(n))
	b = append(b, byte(f.Opcode))
	b = binary.BigEndian.AppendUint64(b, f.RequestID)
	return append(b, f.Payload...), nil
}

// WriteFrame writes f to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := AppendFrame(make([]byte, 0, lengthSize+headerSize+len(f.Payload)), f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one frame from r. It returns io.EOF when r ends cleanly
// between frames and an error wrapping graph.ErrProtocol for a truncated,
// oversized or malformed frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [lengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: truncated length", graph.ErrProtocol)
		}
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < headerSize {
		return Frame{}, fmt.Errorf("%w: frame length %d shorter than header", graph.ErrProtocol, n)
	}
	if n > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: frame length %d exceeds %d", graph.ErrProtocol, n, MaxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: truncated frame (%d bytes expected)", graph.ErrProtocol, n)
		}
		return Frame{}, err
	}
	f := Frame{
		Opcode:    Opcode(body[0]),
		RequestID: binary.BigEndian.Uint64(body[1:headerSize]),
	}
	if len(body) > headerSize {
		f.Payload = body[headerSize:]
	}
	return f, nil
}
