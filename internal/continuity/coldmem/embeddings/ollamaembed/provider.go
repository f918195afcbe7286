// Package ollamaembed implements the embeddings.Provider contract
// against a local Ollama server. No client library is warranted here:
// Ollama's embeddings endpoint is a single unauthenticated POST, and
// the rest of the pack has no Ollama SDK to reach for.
package ollamaembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexd/runtime/internal/apperrors"
)

// Provider implements embeddings.Provider over a local Ollama server.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// Config configures the provider.
type Config struct {
	BaseURL string
	Model   string
}

// New constructs an Ollama embedding provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &Provider{baseURL: cfg.BaseURL, model: cfg.Model, client: &http.Client{Timeout: 60 * time.Second}}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Dimension() int {
	switch p.model {
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default:
		return 768
	}
}

func (p *Provider) MaxBatchSize() int { return 100 }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "ollamaembed.Embed", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "ollamaembed.Embed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "ollamaembed.Embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, apperrors.New(apperrors.Remote, "ollamaembed.Embed", fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, string(b)))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "ollamaembed.Embed", err)
	}
	return result.Embedding, nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
