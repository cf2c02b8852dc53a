package pipeline

import (
	"context"

	"github.com/lorekeep/retrieval/internal/dense"
	"github.com/lorekeep/retrieval/internal/sparse"
)

// RegistrySearcher adapts the sparse index registry to the pipeline's
// channel contract. A scope that has never been indexed behaves like
// an empty corpus.
type RegistrySearcher struct {
	registry *sparse.Registry
}

var _ SparseSearcher = (*RegistrySearcher)(nil)

// NewRegistrySearcher wraps a sparse registry.
func NewRegistrySearcher(registry *sparse.Registry) *RegistrySearcher {
	return &RegistrySearcher{registry: registry}
}

// Search implements SparseSearcher. The snapshot reference is loaded
// once, so a mid-search swap cannot mix index versions.
func (s *RegistrySearcher) Search(_ context.Context, scope, query string, topK int) ([]ScoredID, error) {
	snap, ok := s.registry.Get(scope)
	if !ok {
		return []ScoredID{}, nil
	}

	hits := snap.Search(query, topK)
	out := make([]ScoredID, len(hits))
	for i, h := range hits {
		out[i] = ScoredID{ID: h.ID, Score: h.Score}
	}
	return out, nil
}

// DenseAdapter adapts a dense retriever to the pipeline's channel
// contract.
type DenseAdapter struct {
	retriever dense.Retriever
}

var _ DenseSearcher = (*DenseAdapter)(nil)

// NewDenseAdapter wraps a dense retriever.
func NewDenseAdapter(retriever dense.Retriever) *DenseAdapter {
	return &DenseAdapter{retriever: retriever}
}

// Search implements DenseSearcher.
func (a *DenseAdapter) Search(ctx context.Context, scope, query string, topK int) ([]ScoredID, error) {
	hits, err := a.retriever.Search(ctx, scope, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredID, len(hits))
	for i, h := range hits {
		out[i] = ScoredID{ID: h.ID, Score: h.Score}
	}
	return out, nil
}
