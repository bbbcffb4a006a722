// Package local provides a deterministic embedding provider that runs without
// any external service.
//
// Each stemmed content term is hashed (FNV-1a) into one of Dimensions buckets
// with a hash-derived sign, and the result is L2-normalised. Texts sharing
// terms therefore have a positive cosine similarity, and identical term sets
// map to identical vectors.
package local

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/oceanbase/conceptgraph-go/pkg/embedder"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 256

// Config contains configuration for the local provider.
type Config struct {
	// Dimensions is the vector dimension (default: 256).
	Dimensions int

	// Seed varies the hash so that independent deployments do not share
	// bucket assignments.
	Seed uint64
}

var _ embedder.Provider = (*Client)(nil)

// Client implements embedder.Provider with feature hashing.
type Client struct {
	mu     sync.RWMutex
	closed bool

	dimensions int
	seed       [8]byte
}

// NewClient creates a new local provider.
func NewClient(cfg *Config) (*Client, error) {
	c := &Client{dimensions: DefaultDimensions}
	if cfg != nil {
		if cfg.Dimensions > 0 {
			c.dimensions = cfg.Dimensions
		}
		for i := 0; i < 8; i++ {
			c.seed[i] = byte(cfg.Seed >> (56 - 8*i))
		}
	}
	return c, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts to vectors. A text without content terms maps to
// the zero vector.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, embedder.ErrProviderClosed
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = c.generate(text)
	}
	return vectors, nil
}

func (c *Client) generate(text string) []float64 {
	v := make([]float64, c.dimensions)
	for _, term := range lexicon.Terms(text) {
		h := fnv.New64a()
		_, _ = h.Write(c.seed[:])
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(c.dimensions))
		if sum>>63 == 1 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}
	return graph.NormalizeVector(v)
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close marks the provider closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
