package remote

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/protocol"
)

type result struct {
	resp *protocol.Response
	err  error
}

// session is one connection and the requests in flight on it. Once it
// fails it is never reused; the client dials a new one.
type session struct {
	conn net.Conn

	wmu sync.Mutex
	bw  *bufio.Writer

	mu      sync.Mutex
	pending map[uint64]chan result
	err     error
}

func newSession(conn net.Conn) *session {
	s := &session{
		conn:    conn,
		bw:      bufio.NewWriter(conn),
		pending: make(map[uint64]chan result),
	}
	go s.readLoop()
	return s
}

func (s *session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err == nil
}

func (s *session) register(id uint64) (<-chan result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan result, 1)
	s.pending[id] = ch
	return ch, nil
}

func (s *session) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// failure is the error that ended the session.
func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) send(f protocol.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := protocol.WriteFrame(s.bw, f); err != nil {
		return err
	}
	return s.bw.Flush()
}

// fail ends the session: every request in flight fails with err at once.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	_ = s.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

func (s *session) readLoop() {
	br := bufio.NewReader(s.conn)
	for {
		f, err := protocol.ReadFrame(br)
		if err != nil {
			s.fail(fmt.Errorf("%w: %w", graph.ErrConnection, err))
			return
		}
		resp, err := protocol.DecodeResponse(f)

		s.mu.Lock()
		ch, ok := s.pending[f.RequestID]
		delete(s.pending, f.RequestID)
		s.mu.Unlock()
		if !ok {
			// The caller gave up on this request.
			continue
		}
		ch <- result{resp: resp, err: err}
	}
}
