// Package openaiembed implements the embeddings.Provider contract
// using OpenAI's embedding models, reusing the same go-openai client
// the Model Endpoint Adapter's OpenAI backend uses for completions.
package openaiembed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexd/runtime/internal/apperrors"
)

// Provider implements embeddings.Provider over OpenAI.
type Provider struct {
	client *openai.Client
	model  string
}

// Config configures the provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// New constructs an OpenAI embedding provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.Configuration, "openaiembed.New", "api key required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Dimension() int {
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func (p *Provider) MaxBatchSize() int { return 2048 }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperrors.New(apperrors.Remote, "openaiembed.Embed", "no embedding returned")
	}
	return out[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "openaiembed.EmbedBatch", fmt.Errorf("create embeddings: %w", err))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
