package corpus

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"github.com/lorekeep/retrieval/internal/dense"
	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/sparse"
)

// Indexer rebuilds a scope's retrieval state from its passages: the
// sparse snapshot (atomic swap), the dense vectors, and the passage
// store. Concurrent reindexing across processes is guarded by an
// optional file lock.
type Indexer struct {
	registry  *sparse.Registry
	passages  passage.Store
	params    sparse.Params
	tokenizer sparse.Tokenizer
	dense     dense.Indexer
	lock      *flock.Flock
	logger    *slog.Logger
}

// IndexerOption configures optional indexer collaborators.
type IndexerOption func(*Indexer)

// WithDenseIndexer wires the dense backend rebuild.
func WithDenseIndexer(d dense.Indexer) IndexerOption {
	return func(ix *Indexer) { ix.dense = d }
}

// WithLockFile guards reindexing with a cross-process file lock.
func WithLockFile(path string) IndexerOption {
	return func(ix *Indexer) { ix.lock = flock.New(path) }
}

// WithIndexerLogger overrides the default logger.
func WithIndexerLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// NewIndexer creates an indexer over the given sparse registry and
// passage store.
func NewIndexer(registry *sparse.Registry, passages passage.Store, params sparse.Params, tokenizer sparse.Tokenizer, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		registry:  registry,
		passages:  passages,
		params:    params,
		tokenizer: tokenizer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// ReindexScope rebuilds one scope from the given passages. The sparse
// snapshot is built off to the side and swapped in atomically, so
// searches in flight keep their old view. The dense backend and the
// passage store are replaced wholesale: passages dropped from the
// corpus stop being retrievable.
func (ix *Indexer) ReindexScope(ctx context.Context, scope string, passages []passage.Passage) error {
	release, err := ix.acquireLock()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()

	docs := make([]sparse.Document, len(passages))
	ids := make([]string, len(passages))
	texts := make([]string, len(passages))
	for i, p := range passages {
		docs[i] = sparse.Document{ID: p.ID, Text: p.Text}
		ids[i] = p.ID
		texts[i] = p.Text
	}

	snap := sparse.Build(docs, ix.params, ix.tokenizer)

	if ix.dense != nil {
		if err := ix.dense.Index(ctx, scope, ids, texts); err != nil {
			// Leave the previous sparse snapshot live rather than swap
			// in an index the dense channel disagrees with.
			return err
		}
	}
	if err := ix.passages.Replace(ctx, scope, passages); err != nil {
		return err
	}
	ix.registry.Swap(scope, snap)

	ix.logger.Info("scope_reindexed",
		slog.String("scope", scope),
		slog.Int("passages", len(passages)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// DropScope removes a scope whose corpus file disappeared.
func (ix *Indexer) DropScope(ctx context.Context, scope string) error {
	release, err := ix.acquireLock()
	if err != nil {
		return err
	}
	defer release()

	ix.registry.Drop(scope)
	if ix.dense != nil {
		if err := ix.dense.Index(ctx, scope, nil, nil); err != nil {
			return err
		}
	}
	if err := ix.passages.Replace(ctx, scope, nil); err != nil {
		return err
	}
	ix.logger.Info("scope_dropped", slog.String("scope", scope))
	return nil
}

// ReindexDir loads every corpus file in dir and rebuilds its scope.
// Returns the number of scopes indexed.
func (ix *Indexer) ReindexDir(ctx context.Context, dir string) (int, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return 0, err
	}

	for _, file := range files {
		scope := ScopeFromFilename(file)
		passages, err := LoadFile(file, scope)
		if err != nil {
			return 0, err
		}
		if err := ix.ReindexScope(ctx, scope, passages); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

// acquireLock takes the reindex file lock when one is configured. A
// lock already held by another process is a retryable error, not a
// reason to block a serving goroutine.
func (ix *Indexer) acquireLock() (func(), error) {
	if ix.lock == nil {
		return func() {}, nil
	}

	acquired, err := ix.lock.TryLock()
	if err != nil {
		return nil, coreerrors.New(coreerrors.ErrCodeReindexLocked, "acquire reindex lock", err)
	}
	if !acquired {
		return nil, coreerrors.New(coreerrors.ErrCodeReindexLocked,
			"reindex already in progress", nil).WithDetail("lock_path", ix.lock.Path())
	}
	return func() { _ = ix.lock.Unlock() }, nil
}
