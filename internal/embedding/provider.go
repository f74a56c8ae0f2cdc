// Package embedding implements the embedding provider contract (C3):
// embed/embed_batch against a remote embedding service, with a uniform
// interface across backends.
package embedding

import "context"

// Provider turns text into fixed-length 32-bit float vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ProviderName() string
	Model() string
	// Dimensions returns the vector length, auto-discovered on first use
	// when not explicitly configured. Returns 0 before discovery.
	Dimensions() int
}
