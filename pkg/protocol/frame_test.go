package protocol_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/protocol"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frames := []protocol.Frame{
		{Opcode: protocol.OpAsk, RequestID: 1<<63 | 7, Payload: []byte{1, 2, 3}},
		{Opcode: protocol.OpHealth, RequestID: 42},
	}
	for _, f := range frames {
		require.NoError(t, protocol.WriteFrame(&buf, f))
	}

	raw := buf.Bytes()
	assert.Equal(t, uint32(9+3), binary.BigEndian.Uint32(raw[:4]))
	assert.Equal(t, byte(protocol.OpAsk), raw[4])

	for _, want := range frames {
		got, err := protocol.ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := protocol.ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_Malformed(t *testing.T) {
	header := func(n uint32) []byte {
		return binary.BigEndian.AppendUint32(nil, n)
	}
	tests := []struct {
		name string
		raw  []byte
	}{
		{"truncated length", []byte{0, 0}},
		{"shorter than header", append(header(4), 1, 2, 3, 4)},
		{"oversized", header(protocol.MaxFrameSize + 1)},
		{"truncated body", append(header(20), 7, 0, 0, 0, 0, 0, 0, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ReadFrame(bytes.NewReader(tt.raw))
			assert.ErrorIs(t, err, graph.ErrProtocol)
		})
	}
}

func TestWriteFrame_Oversized(t *testing.T) {
	err := protocol.WriteFrame(io.Discard, protocol.Frame{Opcode: protocol.OpLearn, Payload: make([]byte, protocol.MaxFrameSize)})
	assert.ErrorIs(t, err, graph.ErrProtocol)
}

func TestOpcodes(t *testing.T) {
	assert.Equal(t, "SIMILAR_CONCEPTS", protocol.OpSimilarConcepts.String())
	assert.Equal(t, "OPCODE(200)", protocol.Opcode(200).String())
	assert.False(t, protocol.Opcode(0).Valid())
	assert.True(t, protocol.OpLearnBatch.IsWrite())
	assert.True(t, protocol.OpUpsertConcept.IsWrite())
	assert.False(t, protocol.OpAsk.IsWrite())
	assert.False(t, protocol.OpGetConcept.IsWrite())
}
