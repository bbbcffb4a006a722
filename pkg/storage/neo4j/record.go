package neo4j

import (
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

func conceptFromRecord(rec *neo4j.Record) (*graph.Concept, error) {
	var c graph.Concept
	var err error
	if c.ID, err = stringField(rec, "id"); err != nil {
		return nil, err
	}
	if c.Content, err = stringField(rec, "content"); err != nil {
		return nil, err
	}
	if c.Strength, err = floatField(rec, "strength"); err != nil {
		return nil, err
	}
	if v, ok := rec.Get("access_count"); ok {
		if n, ok := v.(int64); ok {
			c.AccessCount = n
		}
	}
	if c.CreatedAt, err = timeField(rec, "created_at"); err != nil {
		return nil, err
	}
	if c.LastAccessedAt, err = timeField(rec, "last_accessed_at"); err != nil {
		return nil, err
	}
	if v, ok := rec.Get("embedding"); ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("embedding of %s: unexpected %T", c.ID, v)
		}
		c.Embedding = make([]float64, len(list))
		for i, x := range list {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("embedding of %s: unexpected element %T", c.ID, x)
			}
			c.Embedding[i] = f
		}
	}
	return &c, nil
}

func associationFromRecord(rec *neo4j.Record) (*graph.Association, error) {
	var a graph.Association
	var err error
	if a.SourceID, err = stringField(rec, "source"); err != nil {
		return nil, err
	}
	if a.TargetID, err = stringField(rec, "target"); err != nil {
		return nil, err
	}
	typ, err := stringField(rec, "type")
	if err != nil {
		return nil, err
	}
	if a.Type, err = graph.ParseAssociationType(typ); err != nil {
		return nil, err
	}
	if a.Weight, err = floatField(rec, "weight"); err != nil {
		return nil, err
	}
	if a.Confidence, err = floatField(rec, "confidence"); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = timeField(rec, "created_at"); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = timeField(rec, "updated_at"); err != nil {
		return nil, err
	}
	return &a, nil
}

func stringField(rec *neo4j.Record, key string) (string, error) {
	v, ok := rec.Get(key)
	if !ok {
		return "", fmt.Errorf("record has no %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected %T", key, v)
	}
	return s, nil
}

func floatField(rec *neo4j.Record, key string) (float64, error) {
	v, ok := rec.Get(key)
	if !ok {
		return 0, fmt.Errorf("record has no %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%s: unexpected %T", key, v)
}

func timeField(rec *neo4j.Record, key string) (time.Time, error) {
	s, err := stringField(rec, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
