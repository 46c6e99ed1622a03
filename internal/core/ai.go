package core

import "context"

// EmbeddingProvider is a raw remote embedding model: one call, one vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder is what the batch indexer calls. Implementations own the retry policy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
