package dense

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/lorekeep/retrieval/internal/embed"
)

// LocalStore is an embedded HNSW-backed retriever. Each tenant scope
// owns its own graph; Index replaces a scope's graph wholesale so
// searches never see a partially rebuilt scope.
type LocalStore struct {
	embedder embed.Embedder
	logger   *slog.Logger

	mu     sync.RWMutex
	scopes map[string]*scopeGraph
}

// LocalOption configures optional store collaborators.
type LocalOption func(*LocalStore)

// WithLocalLogger overrides the default logger.
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(s *LocalStore) { s.logger = l }
}

type scopeGraph struct {
	graph *hnsw.Graph[uint64]
	ids   map[uint64]string
}

var (
	_ Retriever = (*LocalStore)(nil)
	_ Indexer   = (*LocalStore)(nil)
)

// NewLocalStore creates an empty local dense store.
func NewLocalStore(embedder embed.Embedder, opts ...LocalOption) *LocalStore {
	s := &LocalStore{
		embedder: embedder,
		logger:   slog.Default(),
		scopes:   make(map[string]*scopeGraph),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index embeds the passages and rebuilds the scope's graph wholesale.
// An empty id set removes the scope.
func (s *LocalStore) Index(ctx context.Context, scope string, ids []string, texts []string) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch: %d vs %d", len(ids), len(texts))
	}
	if len(ids) == 0 {
		s.mu.Lock()
		delete(s.scopes, scope)
		s.mu.Unlock()
		return nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed corpus for scope %s: %w", scope, err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	keyToID := make(map[uint64]string, len(ids))

	for i, id := range ids {
		key := uint64(i)
		graph.Add(hnsw.MakeNode(key, vectors[i]))
		keyToID[key] = id
	}

	s.mu.Lock()
	s.scopes[scope] = &scopeGraph{graph: graph, ids: keyToID}
	s.mu.Unlock()

	s.logger.Debug("dense_scope_indexed",
		slog.String("scope", scope),
		slog.Int("passages", len(ids)))
	return nil
}

// Search implements Retriever.
func (s *LocalStore) Search(ctx context.Context, scope, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}

	s.mu.RLock()
	sg, ok := s.scopes[scope]
	s.mu.RUnlock()
	if !ok || sg.graph.Len() == 0 {
		return []Hit{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	nodes := sg.graph.Search(vec, topK)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		id, exists := sg.ids[node.Key]
		if !exists {
			continue
		}
		// Cosine distance in [0,2]; clamp the similarity to [0,1].
		score := 1 - float64(sg.graph.Distance(vec, node.Value))
		if score < 0 {
			score = 0
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}
