// Package openai embeds text with the OpenAI embeddings endpoint or any
// server that speaks the same API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/conceptgraph-go/pkg/embedder"
)

var _ embedder.Provider = (*Client)(nil)

const defaultDimensions = 1536

// Config selects the endpoint and model. Only APIKey is required; the
// model defaults to text-embedding-ada-002 and Dimensions to 1536.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Client is an embedder.Provider over go-openai.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: API key is required")
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Client{
		client:     openai.NewClientWithConfig(conf),
		model:      model,
		dimensions: dims,
	}, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch sends all texts in one request. Vectors are placed by the
// index the server reports, not by response order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			idx = i
		}
		v := make([]float64, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float64(x)
		}
		vectors[idx] = v
	}
	return vectors, nil
}

func (c *Client) Dimensions() int { return c.dimensions }

// Close is a no-op; the SDK client holds no connections of its own.
func (c *Client) Close() error { return nil }
