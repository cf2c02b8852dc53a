package corpus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/sparse"
)

func writeCorpusFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeCorpusFile(t, t.TempDir(), "tenant-1.jsonl",
		`{"id":"p-1","text":"Cats are independent animals.","source":"handbook.md"}

{"id":"p-2","text":"Dogs are loyal companions.","source":"handbook.md"}
`)

	passages, err := LoadFile(path, "tenant-1")
	require.NoError(t, err)
	require.Len(t, passages, 2)

	assert.Equal(t, "p-1", passages[0].ID)
	assert.Equal(t, "tenant-1", passages[0].Scope)
	assert.Equal(t, "Cats are independent animals.", passages[0].Text)
	assert.Equal(t, "handbook.md", passages[0].Source)
	assert.Equal(t, "p-2", passages[1].ID)
}

func TestLoadFile_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"id":"p-1","text":"ok"}` + "\n" + `{not json}`},
		{"missing id", `{"text":"no id here"}`},
		{"missing text", `{"id":"p-1"}`},
		{"duplicate id", `{"id":"p-1","text":"first"}` + "\n" + `{"id":"p-1","text":"second"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCorpusFile(t, t.TempDir(), "tenant-1.jsonl", tt.content)

			_, err := LoadFile(path, "tenant-1")
			require.Error(t, err)
			assert.Equal(t, coreerrors.ErrCodeCorpusCorrupt, coreerrors.GetCode(err))
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.jsonl"), "tenant-1")
	require.Error(t, err)
	assert.Equal(t, coreerrors.ErrCodeCorpusCorrupt, coreerrors.GetCode(err))
}

func TestScopeFromFilename(t *testing.T) {
	assert.Equal(t, "tenant-1", ScopeFromFilename("/data/corpus/tenant-1.jsonl"))
	assert.Equal(t, "acme", ScopeFromFilename("acme.jsonl"))
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "zeta.jsonl", "")
	writeCorpusFile(t, dir, "alpha.jsonl", "")
	writeCorpusFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jsonl"), 0o755))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "alpha.jsonl"), files[0])
	assert.Equal(t, filepath.Join(dir, "zeta.jsonl"), files[1])
}

type fakeDenseIndexer struct {
	mu    sync.Mutex
	calls map[string][]string
	err   error
}

func newFakeDenseIndexer() *fakeDenseIndexer {
	return &fakeDenseIndexer{calls: make(map[string][]string)}
}

func (f *fakeDenseIndexer) Index(_ context.Context, scope string, ids []string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls[scope] = append([]string(nil), ids...)
	return nil
}

func newTestIndexer(t *testing.T, opts ...IndexerOption) (*Indexer, *sparse.Registry, *passage.MemoryStore) {
	t.Helper()
	registry := sparse.NewRegistry()
	store := passage.NewMemoryStore()
	ix := NewIndexer(registry, store, sparse.DefaultParams(), sparse.NewStandardTokenizer(), opts...)
	return ix, registry, store
}

func TestIndexer_ReindexScope(t *testing.T) {
	denseIx := newFakeDenseIndexer()
	ix, registry, store := newTestIndexer(t, WithDenseIndexer(denseIx))

	passages := []passage.Passage{
		{ID: "p-1", Scope: "tenant-1", Text: "Cats are independent animals.", Source: "a.md"},
		{ID: "p-2", Scope: "tenant-1", Text: "Dogs are loyal companions.", Source: "a.md"},
	}
	require.NoError(t, ix.ReindexScope(context.Background(), "tenant-1", passages))

	snap, ok := registry.Get("tenant-1")
	require.True(t, ok)
	hits := snap.Search("cats", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p-1", hits[0].ID)

	count, err := store.Count(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, []string{"p-1", "p-2"}, denseIx.calls["tenant-1"])
}

func TestIndexer_ShrunkCorpusRemovesStalePassages(t *testing.T) {
	denseIx := newFakeDenseIndexer()
	ix, registry, store := newTestIndexer(t, WithDenseIndexer(denseIx))

	require.NoError(t, ix.ReindexScope(context.Background(), "tenant-1", []passage.Passage{
		{ID: "p-1", Scope: "tenant-1", Text: "Cats are independent animals."},
		{ID: "p-2", Scope: "tenant-1", Text: "Dogs are loyal companions."},
	}))
	require.NoError(t, ix.ReindexScope(context.Background(), "tenant-1", []passage.Passage{
		{ID: "p-1", Scope: "tenant-1", Text: "Cats are independent animals."},
	}))

	count, err := store.Count(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, found, err := store.Get(context.Background(), "tenant-1", "p-2")
	require.NoError(t, err)
	assert.False(t, found)

	// Neither the sparse snapshot nor the dense backend keep p-2.
	snap, ok := registry.Get("tenant-1")
	require.True(t, ok)
	assert.Empty(t, snap.Search("dogs", 10))
	assert.Equal(t, []string{"p-1"}, denseIx.calls["tenant-1"])
}

func TestIndexer_DenseFailureKeepsOldSnapshot(t *testing.T) {
	denseIx := newFakeDenseIndexer()
	ix, registry, _ := newTestIndexer(t, WithDenseIndexer(denseIx))

	old := []passage.Passage{{ID: "p-1", Scope: "tenant-1", Text: "Cats are independent animals."}}
	require.NoError(t, ix.ReindexScope(context.Background(), "tenant-1", old))

	denseIx.err = assert.AnError
	replacement := []passage.Passage{{ID: "p-9", Scope: "tenant-1", Text: "Completely different corpus."}}
	require.Error(t, ix.ReindexScope(context.Background(), "tenant-1", replacement))

	// Searches still see the pre-failure snapshot.
	snap, ok := registry.Get("tenant-1")
	require.True(t, ok)
	hits := snap.Search("cats", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p-1", hits[0].ID)
}

func TestIndexer_ReindexDir(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "tenant-1.jsonl", `{"id":"p-1","text":"Cats are independent animals."}`)
	writeCorpusFile(t, dir, "tenant-2.jsonl", `{"id":"p-1","text":"Quarterly invoices are due in March."}`)

	ix, registry, _ := newTestIndexer(t)

	n, err := ix.ReindexDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"tenant-1", "tenant-2"}, registry.Scopes())
}

func TestIndexer_DropScope(t *testing.T) {
	ix, registry, store := newTestIndexer(t)

	require.NoError(t, ix.ReindexScope(context.Background(), "tenant-1",
		[]passage.Passage{{ID: "p-1", Scope: "tenant-1", Text: "short lived"}}))
	require.NoError(t, ix.DropScope(context.Background(), "tenant-1"))

	_, ok := registry.Get("tenant-1")
	assert.False(t, ok)

	count, err := store.Count(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIndexer_ReindexLocked(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "reindex.lock")

	held := flock.New(lockPath)
	require.NoError(t, held.Lock())
	defer func() { _ = held.Unlock() }()

	ix, _, _ := newTestIndexer(t, WithLockFile(lockPath))

	err := ix.ReindexScope(context.Background(), "tenant-1",
		[]passage.Passage{{ID: "p-1", Scope: "tenant-1", Text: "blocked"}})
	require.Error(t, err)
	assert.Equal(t, coreerrors.ErrCodeReindexLocked, coreerrors.GetCode(err))
	assert.True(t, coreerrors.IsRetryable(err))
}

func TestWatcher_ReindexesAndDrops(t *testing.T) {
	dir := t.TempDir()
	ix, registry, _ := newTestIndexer(t)

	w, err := NewWatcher(dir, 20*time.Millisecond, ix, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	path := writeCorpusFile(t, dir, "tenant-1.jsonl", `{"id":"p-1","text":"Cats are independent animals."}`)

	assert.Eventually(t, func() bool {
		_, ok := registry.Get("tenant-1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		_, ok := registry.Get("tenant-1")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
