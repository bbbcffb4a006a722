package protocol_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/protocol"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// stubBackend implements the operations the tests call; the embedded nil
// Adapter panics on anything else.
type stubBackend struct {
	storage.Adapter

	mu      sync.Mutex
	upserts map[string]int
	release chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{upserts: make(map[string]int), release: make(chan struct{})}
}

func (b *stubBackend) UpsertConcept(_ context.Context, content string, _ []float64) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upserts[content]++
	return graph.ConceptID(content), b.upserts[content] == 1, nil
}

func (b *stubBackend) upsertCount(content string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upserts[content]
}

func (b *stubBackend) GetConcept(_ context.Context, id string) (*graph.Concept, error) {
	if id != "c1" {
		return nil, graph.NewOpError("GetConcept", fmt.Errorf("%w: %s", graph.ErrUnknownConcept, id))
	}
	return &graph.Concept{ID: "c1", Content: "Dogs are mammals", Strength: 1}, nil
}

func (b *stubBackend) Ask(ctx context.Context, query string, _, _ int) ([]graph.ReasoningPath, error) {
	select {
	case <-b.release:
		return []graph.ReasoningPath{{Confidence: 0.5, Explanation: query}}, nil
	case <-ctx.Done():
		return nil, graph.NewOpError("Ask", ctx.Err())
	}
}

func (b *stubBackend) Health(context.Context) (*graph.HealthStatus, error) {
	return &graph.HealthStatus{Status: "ok", Version: "test"}, nil
}

func startServer(t *testing.T, backend storage.Adapter) (*protocol.Server, string, <-chan error) {
	t.Helper()
	srv, err := protocol.NewServer(backend)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, ln.Addr().String(), done
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func send(t *testing.T, conn net.Conn, req *protocol.Request) {
	t.Helper()
	require.NoError(t, protocol.WriteFrame(conn, req.Encode()))
}

func receive(t *testing.T, conn net.Conn) *protocol.Response {
	t.Helper()
	f, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(f)
	require.NoError(t, err)
	return resp
}

func TestServer_PipelinedResponsesArriveOutOfOrder(t *testing.T) {
	backend := newStubBackend()
	_, addr, _ := startServer(t, backend)
	conn := dial(t, addr)

	send(t, conn, &protocol.Request{Op: protocol.OpAsk, ID: 1, Query: "What are dogs?"})
	send(t, conn, &protocol.Request{Op: protocol.OpGetConcept, ID: 2, ConceptID: "c1"})

	first := receive(t, conn)
	assert.Equal(t, uint64(2), first.ID)
	require.NoError(t, first.Err)
	assert.Equal(t, "Dogs are mammals", first.Concept.Content)

	close(backend.release)
	second := receive(t, conn)
	assert.Equal(t, uint64(1), second.ID)
	assert.Equal(t, protocol.OpAsk, second.Op)
	require.Len(t, second.Paths, 1)
	assert.Equal(t, "What are dogs?", second.Paths[0].Explanation)
}

func TestServer_ErrorsKeepTheirClass(t *testing.T) {
	_, addr, _ := startServer(t, newStubBackend())
	conn := dial(t, addr)

	send(t, conn, &protocol.Request{Op: protocol.OpGetConcept, ID: 5, ConceptID: "missing"})
	resp := receive(t, conn)
	assert.ErrorIs(t, resp.Err, graph.ErrUnknownConcept)
	assert.Nil(t, resp.Concept)

	send(t, conn, &protocol.Request{Op: protocol.OpLearn, ID: 6})
	resp = receive(t, conn)
	assert.ErrorIs(t, resp.Err, graph.ErrInvalidInput)
}

func TestServer_UnknownOpcodeKeepsConnection(t *testing.T) {
	_, addr, _ := startServer(t, newStubBackend())
	conn := dial(t, addr)

	require.NoError(t, protocol.WriteFrame(conn, protocol.Frame{Opcode: 77, RequestID: 3}))
	resp := receive(t, conn)
	assert.Equal(t, uint64(3), resp.ID)
	assert.ErrorIs(t, resp.Err, graph.ErrProtocol)

	send(t, conn, &protocol.Request{Op: protocol.OpHealth, ID: 4})
	resp = receive(t, conn)
	require.NoError(t, resp.Err)
	assert.Equal(t, "ok", resp.Health.Status)
}

func TestServer_MalformedFrameClosesConnection(t *testing.T) {
	_, addr, _ := startServer(t, newStubBackend())
	conn := dial(t, addr)

	_, err := conn.Write([]byte{0, 0, 0, 2, 1, 1})
	require.NoError(t, err)
	_, err = protocol.ReadFrame(conn)
	assert.Error(t, err)
}

func TestServer_IdempotentWritesExecuteOnce(t *testing.T) {
	backend := newStubBackend()
	_, addr, _ := startServer(t, backend)
	conn := dial(t, addr)

	for id := uint64(1); id <= 3; id++ {
		send(t, conn, &protocol.Request{Op: protocol.OpUpsertConcept, ID: id, Content: "Rain", IdempotencyKey: "key-1"})
		resp := receive(t, conn)
		require.NoError(t, resp.Err)
		assert.Equal(t, id, resp.ID)
		assert.True(t, resp.WasNew, "replayed response must be the original one")
	}
	assert.Equal(t, 1, backend.upsertCount("Rain"))

	send(t, conn, &protocol.Request{Op: protocol.OpUpsertConcept, ID: 10, Content: "Rain", IdempotencyKey: "key-2"})
	resp := receive(t, conn)
	require.NoError(t, resp.Err)
	assert.False(t, resp.WasNew)
	assert.Equal(t, 2, backend.upsertCount("Rain"))
}

func TestServer_ConcurrentDuplicateKeysShareExecution(t *testing.T) {
	backend := newStubBackend()
	_, addr, _ := startServer(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			req := &protocol.Request{Op: protocol.OpUpsertConcept, ID: uint64(i + 1), Content: "Snow", IdempotencyKey: "same"}
			if !assert.NoError(t, protocol.WriteFrame(conn, req.Encode())) {
				return
			}
			f, err := protocol.ReadFrame(conn)
			if assert.NoError(t, err) {
				assert.Equal(t, uint64(i+1), f.RequestID)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, backend.upsertCount("Snow"))
}

func TestServer_CloseStopsServe(t *testing.T) {
	srv, addr, done := startServer(t, newStubBackend())
	conn := dial(t, addr)
	send(t, conn, &protocol.Request{Op: protocol.OpAsk, ID: 1, Query: "pending"})

	require.NoError(t, srv.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	_, err := protocol.ReadFrame(conn)
	assert.Error(t, err)
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := protocol.NewServer(nil)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}
