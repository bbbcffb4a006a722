// Package remote implements storage.Adapter over the wire protocol.
//
// A Client owns one connection at a time. Requests are pipelined on it and
// matched to responses by request id. When the connection breaks, every
// request in flight fails with graph.ErrConnection and the next call
// redials. Reads are retried with exponential backoff; writes never are,
// because a repeated learn would reinforce twice. Callers that want to
// retry a write themselves pin its idempotency key with WithIdempotencyKey,
// and the server answers the repeat from its replay table.
package remote

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/protocol"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// Config configures a remote client.
type Config struct {
	// Addr is the host:port of the protocol server.
	Addr string `json:"addr" yaml:"addr"`

	// DialTimeout bounds each connection attempt (default: 5s).
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// RequestTimeout bounds each request unless the caller's context ends
	// sooner (default: 30s).
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// MaxRetries is the number of extra attempts for a read after a
	// connection failure (default: 3).
	MaxRetries uint `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff and MaxBackoff shape the read retry schedule
	// (defaults: 50ms and 2s).
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// NodeID seeds the snowflake request id generator (0-1023, default 1).
	NodeID int64 `json:"node_id" yaml:"node_id"`
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.NodeID == 0 {
		c.NodeID = 1
	}
}

// Dialer opens a connection to addr.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

type idempotencyKey struct{}

// WithIdempotencyKey returns a context whose writes carry key. Repeating a
// write with the same key returns the first outcome without executing it
// again.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func keyFrom(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKey{}).(string); ok && key != "" {
		return key
	}
	return uuid.NewString()
}

// Client is a storage.Adapter backed by a protocol server.
type Client struct {
	cfg  Config
	log  *logger.Logger
	node *snowflake.Node
	dial Dialer

	// mu serialises reconnection.
	mu     sync.Mutex
	sess   *session
	closed bool
}

var _ storage.Adapter = (*Client)(nil)

// New connects to the server at cfg.Addr.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: remote address is required", graph.ErrInvalidInput)
	}
	cfg.applyDefaults()
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrInvalidInput, err)
	}
	c := &Client{cfg: cfg, log: logger.Nop(), node: node}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := c.session(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// session returns the live session, dialling a new one if needed.
func (c *Client) session(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, graph.ErrClosed
	}
	if c.sess != nil && c.sess.alive() {
		return c.sess, nil
	}
	if c.sess != nil {
		c.log.Info("reconnecting", "addr", c.cfg.Addr, "cause", c.sess.failure())
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, err := c.dial(dctx, c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", graph.ErrConnection, c.cfg.Addr, err)
	}
	c.sess = newSession(conn)
	return c.sess, nil
}

// roundTrip sends req once and waits for its response.
func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	s, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	req.ID = uint64(c.node.Generate().Int64())
	ch, err := s.register(req.ID)
	if err != nil {
		return nil, err
	}
	if err := s.send(req.Encode()); err != nil {
		s.fail(fmt.Errorf("%w: write: %v", graph.ErrConnection, err))
		return nil, s.failure()
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, s.failure()
		}
		if r.err != nil {
			return nil, r.err
		}
		return r.resp, nil
	case <-ctx.Done():
		s.unregister(req.ID)
		return nil, ctx.Err()
	}
}

// read performs an idempotent request, retrying connection failures.
func (c *Client) read(ctx context.Context, op string, req protocol.Request) (*protocol.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*protocol.Response, error) {
		attempt++
		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			if graph.IsTransient(err) {
				c.log.Debug("read failed, retrying", "op", op, "attempt", attempt, "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.MaxRetries+1))
	if err != nil {
		return nil, transportError(op, err)
	}
	return resp, nil
}

// write performs a mutating request exactly once.
func (c *Client) write(ctx context.Context, op string, req protocol.Request) (*protocol.Response, error) {
	req.IdempotencyKey = keyFrom(ctx)
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, transportError(op, err)
	}
	return resp, nil
}

// transportError names the operation of a local failure. Errors sent by
// the server arrive in the response and already name it.
func transportError(op string, err error) error {
	return graph.NewOpError(op, err)
}

// UpsertConcept creates or reinforces a concept on the server.
func (c *Client) UpsertConcept(ctx context.Context, content string, embedding []float64) (string, bool, error) {
	resp, err := c.write(ctx, "UpsertConcept", protocol.Request{Op: protocol.OpUpsertConcept, Content: content, Vector: embedding})
	if err != nil {
		return "", false, err
	}
	return resp.ConceptID, resp.WasNew, resp.Err
}

// InsertAssociation inserts or merges an edge on the server.
func (c *Client) InsertAssociation(ctx context.Context, sourceID, targetID string, typ graph.AssociationType, weight, confidence float64) (*graph.AssociationResult, error) {
	resp, err := c.write(ctx, "InsertAssociation", protocol.Request{
		Op:         protocol.OpInsertAssociation,
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       typ,
		Weight:     weight,
		Confidence: confidence,
	})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Association == nil {
		return nil, graph.NewOpError("InsertAssociation", fmt.Errorf("%w: response without association", graph.ErrProtocol))
	}
	return &graph.AssociationResult{Association: *resp.Association, Merged: resp.Merged}, nil
}

// Learn learns one item on the server.
func (c *Client) Learn(ctx context.Context, item graph.LearnItem) (*graph.ItemResult, error) {
	resp, err := c.write(ctx, "Learn", protocol.Request{Op: protocol.OpLearn, Items: []graph.LearnItem{item}})
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, resp.Err
	}
	return &resp.Items[0], resp.Err
}

// LearnBatch learns items on the server. Item failures are in the result;
// the error reports a failure of the exchange itself.
func (c *Client) LearnBatch(ctx context.Context, items []graph.LearnItem) (*graph.BatchResult, error) {
	resp, err := c.write(ctx, "LearnBatch", protocol.Request{Op: protocol.OpLearnBatch, Items: items})
	if err != nil {
		return nil, err
	}
	return &graph.BatchResult{Items: resp.Items}, resp.Err
}

// GetConcept fetches a concept.
func (c *Client) GetConcept(ctx context.Context, id string) (*graph.Concept, error) {
	resp, err := c.read(ctx, "GetConcept", protocol.Request{Op: protocol.OpGetConcept, ConceptID: id})
	if err != nil {
		return nil, err
	}
	return resp.Concept, resp.Err
}

// NeighborsOf fetches the outgoing edges of id.
func (c *Client) NeighborsOf(ctx context.Context, id string, types ...graph.AssociationType) ([]graph.Neighbor, error) {
	resp, err := c.read(ctx, "NeighborsOf", protocol.Request{Op: protocol.OpNeighbors, ConceptID: id, Types: types})
	if err != nil {
		return nil, err
	}
	return resp.Neighbors, resp.Err
}

// FindByWord looks a word up in the server's inverted index.
func (c *Client) FindByWord(ctx context.Context, word string) ([]string, error) {
	resp, err := c.read(ctx, "FindByWord", protocol.Request{Op: protocol.OpFindByWord, Word: word})
	if err != nil {
		return nil, err
	}
	return resp.IDs, resp.Err
}

// SimilarConcepts ranks concepts by cosine similarity on the server.
func (c *Client) SimilarConcepts(ctx context.Context, vector []float64, limit int) ([]graph.ScoredConcept, error) {
	resp, err := c.read(ctx, "SimilarConcepts", protocol.Request{Op: protocol.OpSimilarConcepts, Vector: vector, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Scored, resp.Err
}

// SearchConcepts ranks concepts by relevance to query.
func (c *Client) SearchConcepts(ctx context.Context, query string, limit int) ([]graph.ScoredConcept, error) {
	resp, err := c.read(ctx, "SearchConcepts", protocol.Request{Op: protocol.OpSearch, Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Scored, resp.Err
}

// Ask returns reasoning paths. Paths confirmed before a server-side
// cancellation are returned together with the error.
func (c *Client) Ask(ctx context.Context, query string, maxPaths, maxDepth int) ([]graph.ReasoningPath, error) {
	resp, err := c.read(ctx, "Ask", protocol.Request{Op: protocol.OpAsk, Query: query, MaxPaths: maxPaths, MaxDepth: maxDepth})
	if err != nil {
		return nil, err
	}
	return resp.Paths, resp.Err
}

// Health reports the server status.
func (c *Client) Health(ctx context.Context) (*graph.HealthStatus, error) {
	resp, err := c.read(ctx, "Health", protocol.Request{Op: protocol.OpHealth})
	if err != nil {
		return nil, err
	}
	return resp.Health, resp.Err
}

// Close closes the connection. Requests in flight fail with graph.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.sess != nil {
		c.sess.fail(graph.ErrClosed)
	}
	return nil
}
