// Package embed produces query and passage vectors for the dense
// retrieval channel.
package embed

import (
	"context"
)

// Embedder converts text into a fixed-size vector.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ModelName returns the model identifier for cache keying and logs.
	ModelName() string
}
