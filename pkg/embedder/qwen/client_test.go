package qwen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/conceptgraph-go/pkg/embedder/qwen"
)

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/embeddings/text-embedding/text-embedding", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req struct {
			Model string `json:"model"`
			Input struct {
				Texts []string `json:"texts"`
			} `json:"input"`
			Parameters struct {
				Dimension int `json:"dimension"`
			} `json:"parameters"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "text-embedding-v4", req.Model)
		assert.Equal(t, 3, req.Parameters.Dimension)

		type emb struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		}
		var out []emb
		for i := len(req.Input.Texts) - 1; i >= 0; i-- {
			out = append(out, emb{TextIndex: i, Embedding: []float64{float64(i), 0, 1}})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"output": map[string]interface{}{"embeddings": out},
		})
	}))
	defer srv.Close()

	c, err := qwen.NewClient(&qwen.Config{APIKey: "k", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	vectors, err := c.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 1}, {1, 0, 1}}, vectors)
}

func TestEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := qwen.NewClient(&qwen.Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := qwen.NewClient(&qwen.Config{})
	assert.Error(t, err)
}
