// Package embeddings defines the text embedding contract the warm memory
// tier and skill library depend on, an OpenAI-backed provider, and a circuit
// breaker that degrades memory to non-semantic behavior when the provider is
// down.
package embeddings

import "context"

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving input
	// order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension the provider produces.
	Dimension() int

	// Name returns the provider name for logging and metrics.
	Name() string
}
