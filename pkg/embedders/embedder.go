// Package embedders converts text into fixed-length vectors through an
// external provider. All implementations are stateless adapters over
// the provider's HTTP API.
package embedders

import (
	"context"
	"fmt"

	"github.com/planhub/ai-engine/pkg/config"
)

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed dimensionality of generated vectors.
	Dimension() int

	// ModelName returns the embedding model identifier.
	ModelName() string

	Close() error
}

// EmbeddingError wraps a provider failure. Retrieval and sync propagate
// it instead of retrying silently: a wrong or absent embedding corrupts
// ranking.
type EmbeddingError struct {
	Provider string
	Message  string
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[embedder:%s] %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("[embedder:%s] %s", e.Provider, e.Message)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// NewProvider builds an embedding provider from configuration.
func NewProvider(cfg *config.EmbedderProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %q", cfg.Type)
	}
}
