package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oceanbase/conceptgraph-go/pkg/embedcache"
	"github.com/oceanbase/conceptgraph-go/pkg/embedder"
	localEmbedder "github.com/oceanbase/conceptgraph-go/pkg/embedder/local"
	openaiEmbedder "github.com/oceanbase/conceptgraph-go/pkg/embedder/openai"
	qwenEmbedder "github.com/oceanbase/conceptgraph-go/pkg/embedder/qwen"
	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/intelligence"
	"github.com/oceanbase/conceptgraph-go/pkg/learning"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/reasoning"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
	neo4jStore "github.com/oceanbase/conceptgraph-go/pkg/storage/neo4j"
	oceanbaseStore "github.com/oceanbase/conceptgraph-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/conceptgraph-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/conceptgraph-go/pkg/storage/sqlite"
)

// Version is reported by Health unless WithVersion overrides it.
const Version = "0.1.0"

// Client is the in-process concept graph.
//
// It wires the concept store, the Ebbinghaus strength policy, the embedding
// cache, the learner and the reasoning engine together, and optionally
// mirrors every mutation to a durable backend from which it restores on
// startup. Client implements storage.Adapter with the same guarantees as the
// remote adapter and without its transient failures.
//
// Example:
//
//	client, err := core.NewClient(ctx, core.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	_, _ = client.Learn(ctx, core.NewLearnItem("Dogs are mammals", core.WithRelationHint("Mammal")))
//	paths, _ := client.Ask(ctx, "dog", 3, 3)
type Client struct {
	cfg *Config
	log *logger.Logger

	store     *graph.ConceptStore
	strength  *intelligence.EbbinghausManager
	provider  embedder.Provider
	cache     *embedcache.Cache
	redis     *embedcache.RedisStore
	persister storage.Persister
	learner   *learning.Learner
	engine    *reasoning.Engine

	now     func() time.Time
	started time.Time
	version string

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

var _ storage.Adapter = (*Client)(nil)

// NewClient builds an in-process client from cfg.
//
// The client is initialized with:
//   - the embedding provider (local, OpenAI or Qwen) behind the cache
//   - an optional redis second level for the cache
//   - the persistence backend, whose contents are restored before the
//     store starts journaling to it
//   - the periodic maintenance loop when Graph.MaintenanceInterval is set
func NewClient(ctx context.Context, cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.validate(o.provider == nil); err != nil {
		return nil, err
	}

	log := o.log
	if log == nil {
		l, err := logger.New(cfg.LogMode)
		if err != nil {
			return nil, NewOpError("NewClient", err)
		}
		log = l
	}
	now := o.now
	if now == nil {
		now = time.Now
	}
	version := o.version
	if version == "" {
		version = Version
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		now:     now,
		started: now(),
		version: version,
		stop:    make(chan struct{}),
	}
	if err := c.init(ctx, o); err != nil {
		_ = c.release()
		return nil, NewOpError("NewClient", err)
	}

	if cfg.Graph.MaintenanceInterval > 0 {
		c.wg.Add(1)
		go c.maintain(cfg.Graph.MaintenanceInterval)
	}
	return c, nil
}

func (c *Client) init(ctx context.Context, o *clientOptions) error {
	cfg := c.cfg

	provider := o.provider
	if provider == nil {
		p, err := initEmbedder(cfg.Embedder)
		if err != nil {
			return err
		}
		provider = p
	}
	c.provider = provider

	cacheOpts := []embedcache.Option{embedcache.WithLogger(c.log.With("component", "embedcache"))}
	if cfg.Redis != nil {
		rs, err := embedcache.NewRedisStore(ctx, *cfg.Redis)
		if err != nil {
			return err
		}
		c.redis = rs
		cacheOpts = append(cacheOpts, embedcache.WithSecondLevel(rs))
	}
	cacheCfg := cfg.Cache
	if cacheCfg.Dimensions == 0 {
		cacheCfg.Dimensions = cfg.Embedder.Dimensions
	}
	cache, err := embedcache.New(provider, cacheCfg, cacheOpts...)
	if err != nil {
		return err
	}
	c.cache = cache

	g := cfg.Graph
	c.strength = intelligence.NewEbbinghausManager(g.DecayRate, g.ReinforcementFactor)
	c.store = graph.NewConceptStore(c.strength, graph.StoreOptions{
		DuplicateThreshold:          g.DuplicateThreshold,
		MergeFactor:                 g.MergeFactor,
		RejectDuplicateAssociations: g.RejectDuplicateAssociations,
		Now:                         c.now,
	})

	persister := o.persister
	if persister == nil {
		p, err := initPersister(cfg.Persistence, cache.Dimensions(), c.log)
		if err != nil {
			return err
		}
		persister = p
	}
	c.persister = persister
	if persister != nil {
		if err := c.restore(ctx); err != nil {
			return err
		}
	}

	c.learner, err = learning.New(c.store, cache, cfg.Learning,
		learning.WithLogger(c.log.With("component", "learner")))
	if err != nil {
		return err
	}
	c.engine, err = reasoning.New(c.store, cache, cfg.Reasoning,
		reasoning.WithLogger(c.log.With("component", "reasoning")))
	if err != nil {
		return err
	}
	return nil
}

// restore loads the persisted graph and then attaches the persister as the
// store's journal. Journal failures are logged; the in-memory graph stays
// authoritative.
func (c *Client) restore(ctx context.Context) error {
	concepts, associations, err := c.persister.Load(ctx)
	if err != nil {
		return err
	}
	if err := c.store.Restore(concepts, associations); err != nil {
		return err
	}
	c.store.SetJournal(c.persister, func(op string, err error) {
		journalErrors.WithLabelValues(op).Inc()
		c.log.Error("persist failed", "op", op, "error", err)
	})
	c.log.Info("concept graph restored",
		"provider", c.cfg.Persistence.Provider,
		"concepts", len(concepts),
		"associations", len(associations))
	return nil
}

func (c *Client) check(op string) error {
	if c.closed.Load() {
		return NewOpError(op, ErrClosed)
	}
	return nil
}

// UpsertConcept creates the concept or reinforces the existing one.
func (c *Client) UpsertConcept(ctx context.Context, content string, embedding []float64) (string, bool, error) {
	if err := c.check("UpsertConcept"); err != nil {
		return "", false, err
	}
	return c.store.UpsertConcept(ctx, content, embedding)
}

// GetConcept returns a copy of the concept, or ErrUnknownConcept.
func (c *Client) GetConcept(ctx context.Context, id string) (*graph.Concept, error) {
	if err := c.check("GetConcept"); err != nil {
		return nil, err
	}
	return c.store.GetConcept(ctx, id)
}

// InsertAssociation inserts or merges an edge between existing concepts.
func (c *Client) InsertAssociation(ctx context.Context, sourceID, targetID string, typ graph.AssociationType, weight, confidence float64) (*graph.AssociationResult, error) {
	if err := c.check("InsertAssociation"); err != nil {
		return nil, err
	}
	return c.store.InsertAssociation(ctx, sourceID, targetID, typ, weight, confidence)
}

// NeighborsOf returns the outgoing edges of id.
func (c *Client) NeighborsOf(ctx context.Context, id string, types ...graph.AssociationType) ([]graph.Neighbor, error) {
	if err := c.check("NeighborsOf"); err != nil {
		return nil, err
	}
	return c.store.NeighborsOf(ctx, id, types...)
}

// FindByWord returns the ids of concepts containing word.
func (c *Client) FindByWord(ctx context.Context, word string) ([]string, error) {
	if err := c.check("FindByWord"); err != nil {
		return nil, err
	}
	return c.store.FindByWord(ctx, word)
}

// SimilarConcepts ranks concepts by cosine similarity to vector.
func (c *Client) SimilarConcepts(ctx context.Context, vector []float64, limit int) ([]graph.ScoredConcept, error) {
	if err := c.check("SimilarConcepts"); err != nil {
		return nil, err
	}
	return c.store.SimilarConcepts(ctx, vector, limit)
}

// Learn learns a single item.
func (c *Client) Learn(ctx context.Context, item graph.LearnItem) (*graph.ItemResult, error) {
	if err := c.check("Learn"); err != nil {
		return nil, err
	}
	return c.learner.Learn(ctx, item)
}

// LearnBatch learns items with partial-failure semantics. The error is
// only set when the client itself cannot serve the call.
func (c *Client) LearnBatch(ctx context.Context, items []graph.LearnItem) (*graph.BatchResult, error) {
	if err := c.check("LearnBatch"); err != nil {
		return nil, err
	}
	return c.learner.LearnBatch(ctx, items), nil
}

// Ask returns reasoning paths for query.
func (c *Client) Ask(ctx context.Context, query string, maxPaths, maxDepth int) ([]graph.ReasoningPath, error) {
	if err := c.check("Ask"); err != nil {
		return nil, err
	}
	return c.engine.Ask(ctx, query, maxPaths, maxDepth)
}

// SearchConcepts ranks concepts by relevance to query.
func (c *Client) SearchConcepts(ctx context.Context, query string, limit int) ([]graph.ScoredConcept, error) {
	if err := c.check("SearchConcepts"); err != nil {
		return nil, err
	}
	return c.engine.SearchConcepts(ctx, query, limit)
}

// Health reports the graph size, uptime and version.
func (c *Client) Health(ctx context.Context) (*graph.HealthStatus, error) {
	if err := c.check("Health"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewOpError("Health", err)
	}
	stats := c.store.Stats()
	return &graph.HealthStatus{
		Status:       "ok",
		Concepts:     stats.Concepts,
		Associations: stats.Associations,
		Uptime:       c.now().Sub(c.started),
		Version:      c.version,
	}, nil
}

// Stats returns the size of the graph.
func (c *Client) Stats() graph.StoreStats {
	return c.store.Stats()
}

// CacheStats returns a snapshot of embedding cache activity.
func (c *Client) CacheStats() embedcache.Stats {
	return c.cache.Stats()
}

// CheckConsistency verifies every index against the tables. A failure wraps
// ErrIndexCorrupted.
func (c *Client) CheckConsistency() error {
	return c.store.CheckConsistency()
}

// Decay applies the forgetting curve to every concept. It returns the number
// of concepts whose strength changed.
func (c *Client) Decay(ctx context.Context) (int, error) {
	if err := c.check("Decay"); err != nil {
		return 0, err
	}
	n, err := c.store.Decay(ctx, c.now())
	decayedConcepts.Add(float64(n))
	return n, err
}

// Prune removes unreferenced concepts weaker than the prune threshold and
// returns their ids.
func (c *Client) Prune(ctx context.Context) ([]string, error) {
	if err := c.check("Prune"); err != nil {
		return nil, err
	}
	removed, err := c.store.Prune(ctx, c.PruneThreshold())
	prunedConcepts.Add(float64(len(removed)))
	return removed, err
}

// PruneThreshold is the strength below which Prune removes concepts.
func (c *Client) PruneThreshold() float64 {
	if t := c.cfg.Graph.PruneThreshold; t > 0 {
		return t
	}
	return c.strength.PruneThreshold()
}

// Maintain runs Decay then Prune.
func (c *Client) Maintain(ctx context.Context) (decayed int, pruned []string, err error) {
	if decayed, err = c.Decay(ctx); err != nil {
		return decayed, nil, err
	}
	pruned, err = c.Prune(ctx)
	return decayed, pruned, err
}

func (c *Client) maintain(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			decayed, pruned, err := c.Maintain(ctx)
			cancel()
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				c.log.Warn("maintenance failed", "error", err)
				continue
			}
			c.log.Debug("maintenance done", "decayed", decayed, "pruned", len(pruned))
		}
	}
}

// Close stops maintenance and releases the cache, the provider and the
// persister. Calls after Close fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.wg.Wait()
		err = c.release()
		c.log.Sync()
	})
	return err
}

func (c *Client) release() error {
	var errs []error
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	if c.provider != nil {
		errs = append(errs, c.provider.Close())
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.persister != nil {
		errs = append(errs, c.persister.Close())
	}
	return errors.Join(errs...)
}

// initEmbedder initializes the embedding provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "local", "":
		return localEmbedder.NewClient(&localEmbedder.Config{
			Dimensions: cfg.Dimensions,
			Seed:       cfg.Seed,
		})
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		return qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// initPersister initializes the persistence backend. It returns nil when
// persistence is disabled.
func initPersister(cfg PersistenceConfig, dims int, log *logger.Logger) (storage.Persister, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:      cfg.SQLite.Path,
			TablePrefix: cfg.TablePrefix,
			Timeout:     cfg.Timeout,
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               cfg.Postgres.Host,
			Port:               cfg.Postgres.Port,
			User:               cfg.Postgres.User,
			Password:           cfg.Postgres.Password,
			DBName:             cfg.Postgres.Database,
			SSLMode:            cfg.Postgres.SSLMode,
			TablePrefix:        cfg.TablePrefix,
			EmbeddingModelDims: dims,
			Timeout:            cfg.Timeout,
		})
	case "oceanbase":
		return oceanbaseStore.NewClient(&oceanbaseStore.Config{
			Host:               cfg.OceanBase.Host,
			Port:               cfg.OceanBase.Port,
			User:               cfg.OceanBase.User,
			Password:           cfg.OceanBase.Password,
			DBName:             cfg.OceanBase.Database,
			TablePrefix:        cfg.TablePrefix,
			EmbeddingModelDims: dims,
			Timeout:            cfg.Timeout,
		})
	case "neo4j":
		return neo4jStore.NewClient(&neo4jStore.Config{
			URI:      cfg.Neo4j.URI,
			User:     cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
			Timeout:  cfg.Timeout,
			Logger:   log.With("component", "neo4j"),
		})
	default:
		return nil, fmt.Errorf("%w: unknown persistence provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
