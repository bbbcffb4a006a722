// Package neo4j provides a Neo4j persister for the concept graph.
//
// Concepts are stored as (:Concept) nodes and associations as
// [:ASSOCIATION {type}] relationships, so the graph can be explored with
// Cypher alongside the process that owns it.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// Client implements storage.Persister on a Neo4j database.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	log      *logger.Logger
}

// Config contains Neo4j configuration.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
	Logger      *logger.Logger
}

// NewClient connects to Neo4j and creates the concept id constraint.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.URI == "" {
		return nil, errors.New("neo4j: uri is required")
	}
	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	c := &Client{driver: driver, database: cfg.Database, timeout: timeout, log: log.With("persister", "neo4j")}
	c.initSchema(ctx)
	return c, nil
}

// initSchema is best effort; restricted users may not create constraints.
func (c *Client) initSchema(ctx context.Context) {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `CREATE CONSTRAINT conceptgraph_concept_id IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`, nil)
	if err != nil {
		c.log.Warn("neo4j schema init failed (continuing)", "error", err)
		return
	}
	_, _ = res.Consume(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.database})
}

func (c *Client) write(op, cypher string, params map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("neo4j: %s: %w", op, err)
	}
	return nil
}

// ConceptSaved merges the concept node. A nil embedding keeps the stored one.
func (c *Client) ConceptSaved(concept *graph.Concept) error {
	props := map[string]any{
		"content":          concept.Content,
		"strength":         concept.Strength,
		"access_count":     concept.AccessCount,
		"created_at":       concept.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_accessed_at": concept.LastAccessedAt.UTC().Format(time.RFC3339Nano),
	}
	if concept.Embedding != nil {
		props["embedding"] = concept.Embedding
	}
	return c.write("ConceptSaved", `
MERGE (c:Concept {id: $id})
SET c += $props
`, map[string]any{"id": concept.ID, "props": props})
}

// AssociationSaved merges the relationship keyed by its type.
func (c *Client) AssociationSaved(a *graph.Association) error {
	return c.write("AssociationSaved", `
MATCH (s:Concept {id: $source})
MATCH (t:Concept {id: $target})
MERGE (s)-[e:ASSOCIATION {type: $type}]->(t)
SET e.weight = $weight,
    e.confidence = $confidence,
    e.created_at = $created_at,
    e.updated_at = $updated_at
`, map[string]any{
		"source":     a.SourceID,
		"target":     a.TargetID,
		"type":       string(a.Type),
		"weight":     a.Weight,
		"confidence": a.Confidence,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ConceptsRemoved detaches and deletes the concept nodes.
func (c *Client) ConceptsRemoved(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.write("ConceptsRemoved", `
MATCH (c:Concept)
WHERE c.id IN $ids
DETACH DELETE c
`, map[string]any{"ids": ids})
}

// Load reads every concept node and association relationship.
func (c *Client) Load(ctx context.Context) ([]*graph.Concept, []*graph.Association, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:Concept)
RETURN c.id AS id, c.content AS content, c.strength AS strength, c.access_count AS access_count,
       c.created_at AS created_at, c.last_accessed_at AS last_accessed_at, c.embedding AS embedding
ORDER BY id
`, nil)
		if err != nil {
			return nil, err
		}
		var concepts []*graph.Concept
		for res.Next(ctx) {
			concept, err := conceptFromRecord(res.Record())
			if err != nil {
				return nil, err
			}
			concepts = append(concepts, concept)
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, `
MATCH (s:Concept)-[e:ASSOCIATION]->(t:Concept)
RETURN s.id AS source, t.id AS target, e.type AS type, e.weight AS weight, e.confidence AS confidence,
       e.created_at AS created_at, e.updated_at AS updated_at
ORDER BY source, target, type
`, nil)
		if err != nil {
			return nil, err
		}
		var associations []*graph.Association
		for res.Next(ctx) {
			a, err := associationFromRecord(res.Record())
			if err != nil {
				return nil, err
			}
			associations = append(associations, a)
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return loaded{concepts: concepts, associations: associations}, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("neo4j: Load: %w", err)
	}
	l := out.(loaded)
	return l.concepts, l.associations, nil
}

type loaded struct {
	concepts     []*graph.Concept
	associations []*graph.Association
}

// Close closes the driver.
func (c *Client) Close() error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(context.Background())
	c.driver = nil
	return err
}

var _ storage.Persister = (*Client)(nil)
