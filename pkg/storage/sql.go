package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Dialect describes how a SQL backend spells the statements SQLPersister
// needs. Table names are substituted for %[1]s (concepts) and %[2]s
// (associations) in every statement.
type Dialect struct {
	// Name identifies the backend in errors.
	Name string

	// Placeholder returns the bind parameter for the 1-based position n.
	Placeholder func(n int) string

	// Schema creates the tables if they do not exist.
	Schema []string

	// UpsertConcept inserts or replaces a concept row. Its parameters are
	// id, content, strength, access_count, created_at, last_accessed_at,
	// embedding.
	UpsertConcept string

	// UpsertAssociation inserts or replaces an association row. Its
	// parameters are source_id, target_id, type, weight, confidence,
	// created_at, updated_at.
	UpsertAssociation string

	// EncodeVector converts an embedding to its column value. A nil
	// embedding must encode to nil.
	EncodeVector func(v []float64) (interface{}, error)

	// DecodeVector parses a column value produced by EncodeVector.
	DecodeVector func(s string) ([]float64, error)
}

// SQLPersister is a Persister over database/sql. The sqlite, postgres and
// oceanbase packages configure it with their driver and dialect.
type SQLPersister struct {
	db           *sql.DB
	dialect      Dialect
	concepts     string
	associations string
	timeout      time.Duration
}

// NewSQLPersister creates the tables in db and returns a persister using
// tables named prefix_concepts and prefix_associations.
func NewSQLPersister(ctx context.Context, db *sql.DB, dialect Dialect, prefix string, timeout time.Duration) (*SQLPersister, error) {
	if prefix == "" {
		prefix = "conceptgraph"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &SQLPersister{
		db:           db,
		dialect:      dialect,
		concepts:     prefix + "_concepts",
		associations: prefix + "_associations",
		timeout:      timeout,
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, p.sql(stmt)); err != nil {
			return nil, fmt.Errorf("%s: init schema: %w", dialect.Name, err)
		}
	}
	return p, nil
}

func (p *SQLPersister) sql(stmt string) string {
	return fmt.Sprintf(stmt, p.concepts, p.associations)
}

// DB returns the underlying connection pool.
func (p *SQLPersister) DB() *sql.DB {
	return p.db
}

// ConceptSaved upserts the concept row.
func (p *SQLPersister) ConceptSaved(c *graph.Concept) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	embedding, err := p.dialect.EncodeVector(c.Embedding)
	if err != nil {
		return fmt.Errorf("%s: ConceptSaved: %w", p.dialect.Name, err)
	}
	_, err = p.db.ExecContext(ctx, p.sql(p.dialect.UpsertConcept),
		c.ID,
		c.Content,
		c.Strength,
		c.AccessCount,
		c.CreatedAt.UTC(),
		c.LastAccessedAt.UTC(),
		embedding,
	)
	if err != nil {
		return fmt.Errorf("%s: ConceptSaved: %w", p.dialect.Name, err)
	}
	return nil
}

// AssociationSaved upserts the association row.
func (p *SQLPersister) AssociationSaved(a *graph.Association) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, p.sql(p.dialect.UpsertAssociation),
		a.SourceID,
		a.TargetID,
		string(a.Type),
		a.Weight,
		a.Confidence,
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: AssociationSaved: %w", p.dialect.Name, err)
	}
	return nil
}

// ConceptsRemoved deletes the concepts and every association touching them
// in one transaction.
func (p *SQLPersister) ConceptsRemoved(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: ConceptsRemoved: %w", p.dialect.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]interface{}, len(ids))
	marks := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		marks[i] = p.dialect.Placeholder(i + 1)
	}
	in := strings.Join(marks, ", ")

	// Each statement numbers its placeholders from 1, so the id list is
	// bound once per IN clause.
	assocArgs := append(append([]interface{}{}, args...), args...)
	second := make([]string, len(ids))
	for i := range ids {
		second[i] = p.dialect.Placeholder(len(ids) + i + 1)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE source_id IN (%s) OR target_id IN (%s)", p.associations, in, strings.Join(second, ", ")),
		assocArgs...); err != nil {
		return fmt.Errorf("%s: ConceptsRemoved: %w", p.dialect.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", p.concepts, in),
		args...); err != nil {
		return fmt.Errorf("%s: ConceptsRemoved: %w", p.dialect.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: ConceptsRemoved: %w", p.dialect.Name, err)
	}
	return nil
}

// Load reads every concept and association, ordered by id.
func (p *SQLPersister) Load(ctx context.Context) ([]*graph.Concept, []*graph.Association, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, strength, access_count, created_at, last_accessed_at, embedding
		FROM %s
		ORDER BY id
	`, p.concepts))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var concepts []*graph.Concept
	for rows.Next() {
		var c graph.Concept
		var embedding sql.NullString
		if err := rows.Scan(&c.ID, &c.Content, &c.Strength, &c.AccessCount, &c.CreatedAt, &c.LastAccessedAt, &embedding); err != nil {
			return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
		}
		if embedding.Valid && embedding.String != "" {
			if c.Embedding, err = p.dialect.DecodeVector(embedding.String); err != nil {
				return nil, nil, fmt.Errorf("%s: Load: parse embedding of %s: %w", p.dialect.Name, c.ID, err)
			}
		}
		concepts = append(concepts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
	}

	arows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT source_id, target_id, type, weight, confidence, created_at, updated_at
		FROM %s
		ORDER BY source_id, target_id, type
	`, p.associations))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
	}
	defer func() { _ = arows.Close() }()

	var associations []*graph.Association
	for arows.Next() {
		var a graph.Association
		var typ string
		if err := arows.Scan(&a.SourceID, &a.TargetID, &typ, &a.Weight, &a.Confidence, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
		}
		if a.Type, err = graph.ParseAssociationType(typ); err != nil {
			return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
		}
		associations = append(associations, &a)
	}
	if err := arows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: Load: %w", p.dialect.Name, err)
	}
	return concepts, associations, nil
}

// Close closes the database connection.
func (p *SQLPersister) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

var _ Persister = (*SQLPersister)(nil)
