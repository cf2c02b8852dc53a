package passage

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of hot passages to keep in memory.
const DefaultCacheSize = 2048

// CachedStore wraps a Store with an LRU cache over Get. Reranking and
// explanation both fetch the same top passages, so hits are common.
type CachedStore struct {
	inner Store
	cache *lru.Cache[string, Passage]
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore creates a cached store wrapping inner.
func NewCachedStore(inner Store, cacheSize int) *CachedStore {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, Passage](cacheSize)
	return &CachedStore{inner: inner, cache: cache}
}

func cacheKey(scope, id string) string {
	return scope + "\x00" + id
}

// Get implements Store.
func (s *CachedStore) Get(ctx context.Context, scope, id string) (Passage, bool, error) {
	key := cacheKey(scope, id)
	if p, ok := s.cache.Get(key); ok {
		return p, true, nil
	}

	p, found, err := s.inner.Get(ctx, scope, id)
	if err != nil || !found {
		return p, found, err
	}
	s.cache.Add(key, p)
	return p, true, nil
}

// Put implements Store, invalidating cached entries for the written IDs.
func (s *CachedStore) Put(ctx context.Context, passages []Passage) error {
	if err := s.inner.Put(ctx, passages); err != nil {
		return err
	}
	for _, p := range passages {
		s.cache.Remove(cacheKey(p.Scope, p.ID))
	}
	return nil
}

// Replace implements Store. The whole cache is purged: entries for the
// removed passages cannot be enumerated from here.
func (s *CachedStore) Replace(ctx context.Context, scope string, passages []Passage) error {
	if err := s.inner.Replace(ctx, scope, passages); err != nil {
		return err
	}
	s.cache.Purge()
	return nil
}

// Count implements Store.
func (s *CachedStore) Count(ctx context.Context, scope string) (int, error) {
	return s.inner.Count(ctx, scope)
}
