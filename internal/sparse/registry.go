package sparse

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps tenant scopes to their current index snapshot.
// Each scope owns an atomic pointer, so Swap publishes a rebuilt
// snapshot without blocking in-flight searches on other scopes.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]*atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]*atomic.Pointer[Snapshot])}
}

// Get returns the current snapshot for a scope.
// The second return is false when the scope has never been indexed.
func (r *Registry) Get(scope string) (*Snapshot, bool) {
	r.mu.RLock()
	ptr, ok := r.scopes[scope]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := ptr.Load()
	return snap, snap != nil
}

// Swap atomically publishes a new snapshot for a scope.
// Searches already holding the previous snapshot finish against it;
// new searches see the replacement.
func (r *Registry) Swap(scope string, snap *Snapshot) {
	r.mu.RLock()
	ptr, ok := r.scopes[scope]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		ptr, ok = r.scopes[scope]
		if !ok {
			ptr = &atomic.Pointer[Snapshot]{}
			r.scopes[scope] = ptr
		}
		r.mu.Unlock()
	}

	ptr.Store(snap)
}

// Drop removes a scope from the registry.
func (r *Registry) Drop(scope string) {
	r.mu.Lock()
	delete(r.scopes, scope)
	r.mu.Unlock()
}

// Scopes returns the indexed scope names, sorted.
func (r *Registry) Scopes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.scopes))
	for scope, ptr := range r.scopes {
		if ptr.Load() != nil {
			out = append(out, scope)
		}
	}
	sort.Strings(out)
	return out
}
