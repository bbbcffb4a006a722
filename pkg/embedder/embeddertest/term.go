// Package embeddertest provides embedding providers for tests.
package embeddertest

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/oceanbase/conceptgraph-go/pkg/embedder"
	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
)

// ErrRejected is returned for texts containing a rejected marker.
var ErrRejected = errors.New("embeddertest: text rejected")

var _ embedder.Provider = (*TermProvider)(nil)

// TermProvider gives every distinct stemmed term its own dimension, so two
// texts are similar exactly when they share terms. Unlike feature hashing it
// never collides until Dimensions terms have been seen; later terms wrap.
type TermProvider struct {
	mu     sync.Mutex
	dims   int
	index  map[string]int
	reject []string
	calls  int
}

// NewTermProvider creates a provider with dims dimensions (64 when zero).
func NewTermProvider(dims int) *TermProvider {
	if dims <= 0 {
		dims = 64
	}
	return &TermProvider{dims: dims, index: make(map[string]int)}
}

// Reject makes every text containing marker fail to embed.
func (p *TermProvider) Reject(marker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject = append(p.reject, strings.ToLower(marker))
}

// Calls returns the number of EmbedBatch calls made so far.
func (p *TermProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Embed converts a single text to a vector.
func (p *TermProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	v, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// EmbedBatch fails as a whole when any text is rejected, like a remote API
// refusing a request.
func (p *TermProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	out := make([][]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		for _, marker := range p.reject {
			if strings.Contains(lower, marker) {
				return nil, ErrRejected
			}
		}
		v := make([]float64, p.dims)
		for _, term := range lexicon.Terms(text) {
			idx, ok := p.index[term]
			if !ok {
				idx = len(p.index) % p.dims
				p.index[term] = idx
			}
			v[idx]++
		}
		norm := 0.0
		for _, x := range v {
			norm += x * x
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range v {
				v[j] /= norm
			}
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector dimension.
func (p *TermProvider) Dimensions() int {
	return p.dims
}

// Close is a no-op.
func (p *TermProvider) Close() error {
	return nil
}
