package core

import (
	"time"

	"github.com/oceanbase/conceptgraph-go/pkg/embedder"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	log       *logger.Logger
	provider  embedder.Provider
	persister storage.Persister
	now       func() time.Time
	version   string
}

// WithLogger sets the client logger. By default a logger is built from
// Config.LogMode.
func WithLogger(l *logger.Logger) ClientOption {
	return func(o *clientOptions) {
		o.log = l
	}
}

// WithEmbedder replaces the provider built from Config.Embedder.
//
// Example:
//
//	client, _ := core.NewClient(ctx, cfg, core.WithEmbedder(myProvider))
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.provider = p
	}
}

// WithPersister replaces the backend built from Config.Persistence. The
// client restores from it and closes it.
func WithPersister(p storage.Persister) ClientOption {
	return func(o *clientOptions) {
		o.persister = p
	}
}

// WithClock sets the time source of the store and of maintenance.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.now = now
	}
}

// WithVersion sets the version reported by Health.
func WithVersion(v string) ClientOption {
	return func(o *clientOptions) {
		o.version = v
	}
}

// LearnOption is a function type for configuring learn operations.
type LearnOption func(*graph.LearnItem)

// WithRelationHint names a category the content belongs to. The hint
// becomes a concept of its own with a hierarchical edge from the content.
//
// Example:
//
//	res := <-async.LearnAsync(ctx, "Dogs are mammals", core.WithRelationHint("Mammal"))
func WithRelationHint(hint string) LearnOption {
	return func(item *graph.LearnItem) {
		item.RelationHint = hint
	}
}

// WithSource records where the content came from.
func WithSource(source string) LearnOption {
	return func(item *graph.LearnItem) {
		item.Source = source
	}
}

// WithChunkIndex records the position of the content within its source.
func WithChunkIndex(i int) LearnOption {
	return func(item *graph.LearnItem) {
		item.ChunkIndex = i
	}
}

// WithEmbedding supplies a precomputed vector, bypassing the cache.
func WithEmbedding(v []float64) LearnOption {
	return func(item *graph.LearnItem) {
		item.Embedding = v
	}
}

// NewLearnItem builds a LearnItem from content and options.
func NewLearnItem(content string, opts ...LearnOption) graph.LearnItem {
	item := graph.LearnItem{Content: content}
	for _, opt := range opts {
		opt(&item)
	}
	return item
}

// AskOption is a function type for configuring Ask operations.
type AskOption func(*AskOptions)

// AskOptions contains configuration options for Ask operations. Zero
// values use the engine defaults.
type AskOptions struct {
	MaxPaths int
	MaxDepth int
}

// WithMaxPaths bounds the number of returned paths.
func WithMaxPaths(n int) AskOption {
	return func(opts *AskOptions) {
		opts.MaxPaths = n
	}
}

// WithMaxDepth bounds the number of steps per path.
func WithMaxDepth(n int) AskOption {
	return func(opts *AskOptions) {
		opts.MaxDepth = n
	}
}

// SearchOption is a function type for configuring search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for search operations.
type SearchOptions struct {
	// Limit is the maximum number of results (default: engine seed count).
	Limit int
}

// WithLimit sets the maximum number of search results.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

func applyAskOptions(opts []AskOption) *AskOptions {
	o := &AskOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	o := &SearchOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
