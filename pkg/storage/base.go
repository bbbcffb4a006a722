// Package storage provides interfaces for reaching a concept graph and for
// persisting it.
//
// It defines the Adapter interface that both the in-process client and the
// remote protocol client satisfy, and the Persister interface implemented by
// the durable backends (SQLite, PostgreSQL, OceanBase, Neo4j).
package storage

import (
	"context"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Adapter is the uniform way to reach a concept graph, whether it lives in
// this process or behind the wire protocol.
//
// Implementations are selected at construction time; callers never inspect
// the concrete type.
type Adapter interface {
	graph.Store

	// Learn learns a single item. The result carries warnings such as
	// merged duplicate associations.
	Learn(ctx context.Context, item graph.LearnItem) (*graph.ItemResult, error)

	// LearnBatch learns items with partial-failure semantics: per-item
	// failures are reported in the result, and the error is reserved for
	// failures of the adapter itself (for example a lost connection).
	LearnBatch(ctx context.Context, items []graph.LearnItem) (*graph.BatchResult, error)

	// Ask returns reasoning paths for query.
	Ask(ctx context.Context, query string, maxPaths, maxDepth int) ([]graph.ReasoningPath, error)

	// SearchConcepts ranks concepts by relevance to query.
	SearchConcepts(ctx context.Context, query string, limit int) ([]graph.ScoredConcept, error)

	// Health reports whether the graph can serve requests.
	Health(ctx context.Context) (*graph.HealthStatus, error)

	// Close releases the adapter's resources.
	Close() error
}

// Persister stores a concept graph durably.
//
// It receives every committed mutation of a graph.ConceptStore through the
// graph.Journal methods, and hands the whole graph back through Load when a
// process restarts.
type Persister interface {
	graph.Journal

	// Load returns every stored concept and association.
	Load(ctx context.Context) ([]*graph.Concept, []*graph.Association, error)

	// Close closes the backend and releases resources.
	Close() error
}
