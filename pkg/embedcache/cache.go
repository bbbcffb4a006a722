// Package embedcache deduplicates and micro-batches calls to an embedding
// provider.
//
// Callers ask for vectors through GetOrCompute or GetOrComputeBatch. Hits are
// served from a bounded LRU keyed by a hash of the normalised text. Misses
// are queued for a single background worker that flushes the queue to the
// provider when it reaches MaxBatchSize items or when MaxWait has elapsed
// since the first queued item, whichever comes first.
package embedcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/oceanbase/conceptgraph-go/pkg/embedder"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
)

// SecondLevel is an optional shared store consulted on LRU misses before the
// provider is called. Its failures are logged and treated as misses.
type SecondLevel interface {
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vector []float64) error
}

// Config contains the cache and batching parameters.
type Config struct {
	// Capacity is the maximum number of cached vectors (default: 10000).
	Capacity int `json:"capacity" yaml:"capacity"`

	// MaxBatchSize flushes the queue once it holds this many items (default: 32).
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// MaxWait flushes the queue this long after its first item arrived (default: 10ms).
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`

	// QueueSize bounds the number of queued misses (default: 4 * MaxBatchSize).
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// MaxRetries is the number of provider attempts per batch (default: 3).
	MaxRetries uint `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the first retry delay (default: 50ms).
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay (default: 1s).
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// CallTimeout bounds every provider call (default: 30s).
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`

	// Dimensions is the expected vector dimension. 0 uses the provider's.
	Dimensions int `json:"dimensions" yaml:"dimensions"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:       10000,
		MaxBatchSize:   32,
		MaxWait:        10 * time.Millisecond,
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		CallTimeout:    30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4 * c.MaxBatchSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
}

// Option customises a Cache.
type Option func(*Cache)

// WithSecondLevel installs a shared second-level store.
func WithSecondLevel(sl SecondLevel) Option {
	return func(c *Cache) {
		c.second = sl
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Result is the outcome for one text of a batch lookup.
type Result struct {
	Vector []float64
	Err    error
}

// Stats is a snapshot of cache activity.
type Stats struct {
	// Calls is the number of texts requested.
	Calls uint64 `json:"calls"`
	Hits  uint64 `json:"hits"`

	// Misses counts lookups that had to wait for the provider or the second level.
	Misses uint64 `json:"misses"`

	// Batches is the number of flushes sent to the provider.
	Batches uint64 `json:"batches"`

	// Embedded is the number of texts the provider returned vectors for.
	Embedded uint64 `json:"embedded"`

	// Failures is the number of texts that ended in an error.
	Failures uint64 `json:"failures"`

	// AvgBatchSize is the mean number of distinct texts per flush.
	AvgBatchSize float64 `json:"avg_batch_size"`

	// Throughput is Embedded divided by the time spent in provider calls,
	// in items per second.
	Throughput float64 `json:"throughput"`

	// Size is the number of cached vectors.
	Size int `json:"size"`
}

type request struct {
	key    string
	text   string
	result chan Result
}

// Cache is the embedding cache and batch processor.
type Cache struct {
	provider embedder.Provider
	cfg      Config
	dims     int

	lru    *lru.Cache[string, []float64]
	second SecondLevel
	flight singleflight.Group
	log    *logger.Logger

	queue     chan *request
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	calls, hits, misses            atomic.Uint64
	batches, items, embedded, fail atomic.Uint64
	busyNanos                      atomic.Int64
}

// New starts a cache in front of provider. It fails when the configured
// dimension disagrees with the provider's.
func New(provider embedder.Provider, cfg Config, opts ...Option) (*Cache, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil embedding provider", graph.ErrInvalidInput)
	}
	cfg.applyDefaults()

	dims := provider.Dimensions()
	if cfg.Dimensions > 0 {
		if dims > 0 && dims != cfg.Dimensions {
			return nil, fmt.Errorf("%w: provider produces %d dimensions, configured %d", graph.ErrInvalidInput, dims, cfg.Dimensions)
		}
		dims = cfg.Dimensions
	}

	store, err := lru.New[string, []float64](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	c := &Cache{
		provider: provider,
		cfg:      cfg,
		dims:     dims,
		lru:      store,
		log:      logger.Nop(),
		queue:    make(chan *request, cfg.QueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run()
	return c, nil
}

// Key returns the cache key of text.
func Key(text string) string {
	return lexicon.Key(text)
}

// Dimensions returns the vector dimension every cached vector has.
func (c *Cache) Dimensions() int {
	return c.dims
}

// GetOrCompute returns the vector of text, embedding it if needed. Identical
// normalised text always yields the same cached vector.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float64, error) {
	res := c.GetOrComputeBatch(ctx, []string{text})
	return res[0].Vector, res[0].Err
}

// GetOrComputeBatch returns one Result per text, in order. All misses are
// queued before any is awaited, so they share provider batches. A failure
// of one text does not affect the others.
func (c *Cache) GetOrComputeBatch(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	c.calls.Add(uint64(len(texts)))
	cacheCalls.Add(float64(len(texts)))

	pending := make(map[string][]int)
	var order []string
	for i, text := range texts {
		key := Key(text)
		if v, ok := c.lru.Get(key); ok {
			c.hits.Add(1)
			cacheHits.Inc()
			results[i] = Result{Vector: clone(v)}
			continue
		}
		c.misses.Add(1)
		cacheMisses.Inc()
		if _, seen := pending[key]; !seen {
			order = append(order, key)
		}
		pending[key] = append(pending[key], i)
	}
	if len(order) == 0 {
		return results
	}

	waits := make(map[string]<-chan singleflight.Result, len(order))
	for _, key := range order {
		text := texts[pending[key][0]]
		k := key
		waits[key] = c.flight.DoChan(key, func() (interface{}, error) {
			return c.load(k, text)
		})
	}

	for _, key := range order {
		var res Result
		select {
		case r := <-waits[key]:
			if r.Err != nil {
				res.Err = r.Err
			} else {
				res.Vector = r.Val.([]float64)
			}
		case <-ctx.Done():
			res.Err = ctx.Err()
		}
		for _, i := range pending[key] {
			if res.Err != nil {
				results[i] = Result{Err: graph.NewOpError("GetOrCompute", res.Err)}
				continue
			}
			results[i] = Result{Vector: clone(res.Vector)}
		}
	}
	return results
}

// load resolves one missing key. It runs once per key at a time and must not
// depend on any single caller's context.
func (c *Cache) load(key, text string) ([]float64, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	if c.second != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		v, ok, err := c.second.Get(ctx, key)
		cancel()
		switch {
		case err != nil:
			c.log.Warn("embedding second level lookup failed", "key", key, "error", err)
		case ok && len(v) == c.dims:
			c.lru.Add(key, v)
			return v, nil
		}
	}

	req := &request{key: key, text: text, result: make(chan Result, 1)}
	select {
	case c.queue <- req:
	case <-c.done:
		return nil, errClosed()
	}
	select {
	case res := <-req.result:
		return res.Vector, res.Err
	case <-c.stopped:
		select {
		case res := <-req.result:
			return res.Vector, res.Err
		default:
			return nil, errClosed()
		}
	}
}

func (c *Cache) run() {
	defer close(c.stopped)

	timer := time.NewTimer(c.cfg.MaxWait)
	timer.Stop()
	var batch []*request

	for {
		if len(batch) == 0 {
			select {
			case req := <-c.queue:
				batch = append(batch, req)
				timer.Reset(c.cfg.MaxWait)
			case <-c.done:
				c.drain(nil)
				return
			}
			continue
		}
		if len(batch) >= c.cfg.MaxBatchSize {
			timer.Stop()
			c.flush(batch)
			batch = nil
			continue
		}
		select {
		case req := <-c.queue:
			batch = append(batch, req)
		case <-timer.C:
			c.flush(batch)
			batch = nil
		case <-c.done:
			timer.Stop()
			c.drain(batch)
			return
		}
	}
}

// drain fails batch and everything still queued.
func (c *Cache) drain(batch []*request) {
	for {
		select {
		case req := <-c.queue:
			batch = append(batch, req)
		default:
			for _, req := range batch {
				req.result <- Result{Err: errClosed()}
			}
			c.fail.Add(uint64(len(batch)))
			return
		}
	}
}

// flush embeds one batch. Duplicate keys are embedded once. If the batch
// still fails after retries, every text is retried alone so that one bad
// text cannot fail the others.
func (c *Cache) flush(batch []*request) {
	byKey := make(map[string][]*request, len(batch))
	var keys []string
	var texts []string
	for _, req := range batch {
		if _, ok := byKey[req.key]; !ok {
			keys = append(keys, req.key)
			texts = append(texts, req.text)
		}
		byKey[req.key] = append(byKey[req.key], req)
	}

	c.batches.Add(1)
	c.items.Add(uint64(len(texts)))
	batchSize.Observe(float64(len(texts)))

	vectors, err := c.embed(texts)
	if err != nil && len(texts) > 1 {
		c.log.Warn("embedding batch failed, retrying items individually", "size", len(texts), "error", err)
		vectors = make([][]float64, len(texts))
		errs := make([]error, len(texts))
		for i, text := range texts {
			var one [][]float64
			one, errs[i] = c.embed([]string{text})
			if errs[i] == nil {
				vectors[i] = one[0]
			}
		}
		for i, key := range keys {
			c.deliver(key, byKey[key], vectors[i], errs[i])
		}
		return
	}
	for i, key := range keys {
		if err != nil {
			c.deliver(key, byKey[key], nil, err)
			continue
		}
		c.deliver(key, byKey[key], vectors[i], nil)
	}
}

func (c *Cache) deliver(key string, reqs []*request, v []float64, err error) {
	if err != nil {
		c.fail.Add(uint64(len(reqs)))
		embedErrors.Inc()
		for _, req := range reqs {
			req.result <- Result{Err: err}
		}
		return
	}
	c.embedded.Add(1)
	c.lru.Add(key, v)
	if c.second != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		if serr := c.second.Set(ctx, key, v); serr != nil {
			c.log.Warn("embedding second level store failed", "key", key, "error", serr)
		}
		cancel()
	}
	for _, req := range reqs {
		req.result <- Result{Vector: v}
	}
}

// embed calls the provider with retries and validates the answer.
func (c *Cache) embed(texts []string) ([][]float64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	start := time.Now()
	vectors, err := backoff.Retry(context.Background(), func() ([][]float64, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer cancel()
		vectors, err := c.provider.EmbedBatch(ctx, texts)
		if err != nil {
			if errors.Is(err, embedder.ErrProviderClosed) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for _, v := range vectors {
			if c.dims > 0 && len(v) != c.dims {
				return nil, backoff.Permanent(fmt.Errorf("provider returned %d dimensions, expected %d", len(v), c.dims))
			}
		}
		return vectors, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.MaxRetries))
	elapsed := time.Since(start)
	c.busyNanos.Add(int64(elapsed))
	embedLatency.Observe(elapsed.Seconds())

	if err != nil {
		return nil, fmt.Errorf("%w: %w", graph.ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Calls:    c.calls.Load(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Batches:  c.batches.Load(),
		Embedded: c.embedded.Load(),
		Failures: c.fail.Load(),
		Size:     c.lru.Len(),
	}
	if s.Batches > 0 {
		s.AvgBatchSize = float64(c.items.Load()) / float64(s.Batches)
	}
	if busy := time.Duration(c.busyNanos.Load()); busy > 0 {
		s.Throughput = float64(s.Embedded) / busy.Seconds()
	}
	return s
}

// Close stops the worker. Queued requests fail with ErrEmbeddingUnavailable.
// The provider is not closed.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	<-c.stopped
	return nil
}

func errClosed() error {
	return fmt.Errorf("%w: %w", graph.ErrEmbeddingUnavailable, graph.ErrClosed)
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
