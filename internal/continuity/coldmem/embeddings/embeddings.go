// Package embeddings defines the pluggable provider the cold memory
// index uses to turn node content into a fixed-dimension vector.
package embeddings

import "context"

// Provider turns text into embeddings.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	MaxBatchSize() int
}

// Config is the common shape every provider constructor accepts.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	OllamaURL string
}
