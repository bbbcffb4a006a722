package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

var tracer = otel.Tracer("conceptgraph.protocol")

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithReplayCapacity sets how many idempotency keys the server remembers
// (default 10000).
func WithReplayCapacity(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.replayCapacity = n
		}
	}
}

// WithMaxInFlight bounds the requests handled concurrently per connection
// (default 64). Reading stops while the bound is reached.
func WithMaxInFlight(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// Server serves an Adapter over the wire protocol.
//
// Each connection has one read loop; every request is handled in its own
// goroutine and responses are written as they complete, so a slow ASK does
// not hold up a GET_CONCEPT pipelined behind it.
type Server struct {
	backend storage.Adapter
	log     *logger.Logger

	replayCapacity int
	maxInFlight    int

	// replay maps op/idempotency key to the encoded response payload.
	replay *lru.Cache[string, []byte]
	flight singleflight.Group

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates a server for backend.
func NewServer(backend storage.Adapter, opts ...ServerOption) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", graph.ErrInvalidInput)
	}
	s := &Server{
		backend:        backend,
		log:            logger.Nop(),
		replayCapacity: 10000,
		maxInFlight:    64,
		conns:          make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	replay, err := lru.New[string, []byte](s.replayCapacity)
	if err != nil {
		return nil, err
	}
	s.replay = replay
	return s, nil
}

// ListenAndServe listens on addr and serves until ctx is done or Close is
// called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called. It
// returns nil on shutdown and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return graph.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		s.log.Info("protocol server listening", "addr", ln.Addr().String())
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.isClosed() || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if !s.track(conn) {
				_ = conn.Close()
				return nil
			}
			g.Go(func() error {
				s.serveConn(ctx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

// Close stops accepting connections and closes the open ones. In-flight
// requests see their context cancelled.
func (s *Server) Close() error {
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	openConnections.Inc()
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		openConnections.Dec()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := s.log.With("remote", conn.RemoteAddr().String())
	log.Debug("connection opened")

	var (
		wmu sync.Mutex
		bw  = bufio.NewWriter(conn)
	)
	var handlers errgroup.Group
	handlers.SetLimit(s.maxInFlight)

	br := bufio.NewReader(conn)
	for {
		f, err := ReadFrame(br)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), s.isClosed(), ctx.Err() != nil:
			case errors.Is(err, graph.ErrProtocol):
				// The stream cannot be resynchronised after a bad frame.
				log.Warn("closing connection on malformed frame", "error", err)
			default:
				log.Debug("connection read failed", "error", err)
			}
			break
		}
		handlers.Go(func() error {
			out := s.handle(ctx, f)
			wmu.Lock()
			defer wmu.Unlock()
			if err := WriteFrame(bw, out); err != nil {
				log.Debug("response write failed", "request_id", f.RequestID, "error", err)
				return nil
			}
			if err := bw.Flush(); err != nil {
				log.Debug("response write failed", "request_id", f.RequestID, "error", err)
			}
			return nil
		})
	}
	cancel()
	_ = handlers.Wait()
	log.Debug("connection closed")
}

// handle turns one request frame into its response frame.
func (s *Server) handle(ctx context.Context, f Frame) Frame {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "protocol."+f.Opcode.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("request.id", strconv.FormatUint(f.RequestID, 10)),
			attribute.String("request.op", f.Opcode.String()),
		))
	defer span.End()

	var out Frame
	var opErr error
	req, err := DecodeRequest(f)
	switch {
	case err != nil:
		opErr = err
		out = (&Response{Op: f.Opcode, ID: f.RequestID, Err: err}).Encode()
	case req.Op.IsWrite() && req.IdempotencyKey != "":
		out, opErr = s.idempotent(ctx, req)
	default:
		resp := s.dispatch(ctx, req)
		opErr = resp.Err
		out = resp.Encode()
	}

	code := CodeOf(opErr)
	if opErr != nil {
		span.RecordError(opErr)
		span.SetStatus(codes.Error, opErr.Error())
	}
	requestsTotal.WithLabelValues(f.Opcode.String(), strconv.Itoa(int(code))).Inc()
	requestDuration.WithLabelValues(f.Opcode.String()).Observe(time.Since(start).Seconds())
	return out
}

type replayed struct {
	payload []byte
	err     error
}

// idempotent executes a keyed write once. Concurrent duplicates share the
// execution; later duplicates get the remembered response.
func (s *Server) idempotent(ctx context.Context, req *Request) (Frame, error) {
	key := fmt.Sprintf("%d/%s", req.Op, req.IdempotencyKey)
	v, _, _ := s.flight.Do(key, func() (interface{}, error) {
		if payload, ok := s.replay.Get(key); ok {
			replayedWrites.Inc()
			s.log.Debug("replaying write", "op", req.Op.String(), "key", req.IdempotencyKey)
			return replayed{payload: payload}, nil
		}
		resp := s.dispatch(ctx, req)
		payload := resp.Encode().Payload
		if replayable(resp.Err) {
			s.replay.Add(key, payload)
		}
		return replayed{payload: payload, err: resp.Err}, nil
	})
	r := v.(replayed)
	return Frame{Opcode: req.Op, RequestID: req.ID, Payload: r.payload}, r.err
}

// replayable reports whether a write outcome is final. Transient failures
// are not remembered so that a retry with the same key executes again.
func replayable(err error) bool {
	switch CodeOf(err) {
	case CodeOK, CodeUnknownConcept, CodeDuplicateAssociation, CodeInvalidInput:
		return true
	}
	return false
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	resp := &Response{Op: req.Op, ID: req.ID}
	b := s.backend

	switch req.Op {
	case OpLearn:
		if len(req.Items) != 1 {
			resp.Err = fmt.Errorf("%w: LEARN carries %d items", graph.ErrInvalidInput, len(req.Items))
			break
		}
		res, err := b.Learn(ctx, req.Items[0])
		if res != nil {
			resp.Items = []graph.ItemResult{*res}
		}
		resp.Err = err
	case OpLearnBatch:
		res, err := b.LearnBatch(ctx, req.Items)
		if res != nil {
			resp.Items = res.Items
		}
		resp.Err = err
	case OpGetConcept:
		resp.Concept, resp.Err = b.GetConcept(ctx, req.ConceptID)
	case OpInsertAssociation:
		res, err := b.InsertAssociation(ctx, req.SourceID, req.TargetID, req.Type, req.Weight, req.Confidence)
		if res != nil {
			resp.Association = &res.Association
			resp.Merged = res.Merged
		}
		resp.Err = err
	case OpNeighbors:
		resp.Neighbors, resp.Err = b.NeighborsOf(ctx, req.ConceptID, req.Types...)
	case OpSearch:
		resp.Scored, resp.Err = b.SearchConcepts(ctx, req.Query, req.Limit)
	case OpAsk:
		resp.Paths, resp.Err = b.Ask(ctx, req.Query, req.MaxPaths, req.MaxDepth)
	case OpHealth:
		resp.Health, resp.Err = b.Health(ctx)
	case OpUpsertConcept:
		resp.ConceptID, resp.WasNew, resp.Err = b.UpsertConcept(ctx, req.Content, req.Vector)
	case OpFindByWord:
		resp.IDs, resp.Err = b.FindByWord(ctx, req.Word)
	case OpSimilarConcepts:
		resp.Scored, resp.Err = b.SimilarConcepts(ctx, req.Vector, req.Limit)
	default:
		resp.Err = fmt.Errorf("%w: unknown opcode %d", graph.ErrProtocol, uint8(req.Op))
	}
	return resp
}
