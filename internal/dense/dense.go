// Package dense implements the dense (vector) retrieval channel.
//
// Two backends satisfy the same contract: an embedded HNSW graph for
// self-contained deployments, and a qdrant adapter with per-tenant
// collections for production.
package dense

import (
	"context"
)

// Hit is a scored nearest-neighbor match. Score is cosine similarity
// in [0,1], higher is better.
type Hit struct {
	ID    string
	Score float64
}

// Retriever searches a tenant scope by query text and returns up to
// topK hits ordered by descending score, ties broken by ascending ID.
// An unknown or empty scope yields an empty slice, not an error.
type Retriever interface {
	Search(ctx context.Context, scope, query string, topK int) ([]Hit, error)
}

// Indexer accepts corpus passages for a scope. Rebuilds replace the
// scope's previous contents.
type Indexer interface {
	Index(ctx context.Context, scope string, ids []string, texts []string) error
}
