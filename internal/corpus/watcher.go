package corpus

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reindexes scopes when their corpus files change. Rapid event
// bursts for the same file (editors write in several syscalls) are
// coalesced within a debounce window before touching the indexes.
type Watcher struct {
	dir      string
	debounce time.Duration
	indexer  *Indexer
	fw       *fsnotify.Watcher
	logger   *slog.Logger
}

// NewWatcher creates a watcher over the corpus directory. The
// directory must exist.
func NewWatcher(dir string, debounce time.Duration, indexer *Indexer, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		indexer:  indexer,
		fw:       fw,
		logger:   logger,
	}, nil
}

// Run watches until the context is cancelled. Reindex failures are
// logged and the previous snapshot stays live; the watcher itself only
// stops with its context.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fw.Close() }()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var flushC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					// Drain a tick that fired between flushes so Reset
					// starts a clean window.
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			flushC = timer.C

		case <-flushC:
			flushC = nil
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})

			for _, path := range paths {
				w.sync(ctx, path)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("corpus_watch_error", slog.String("error", err.Error()))
		}
	}
}

// sync brings one scope in line with its corpus file: reindex when the
// file exists, drop the scope when it is gone.
func (w *Watcher) sync(ctx context.Context, path string) {
	scope := ScopeFromFilename(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := w.indexer.DropScope(ctx, scope); err != nil {
			w.logger.Warn("scope_drop_failed",
				slog.String("scope", scope),
				slog.String("error", err.Error()))
		}
		return
	}

	passages, err := LoadFile(path, scope)
	if err != nil {
		w.logger.Warn("corpus_reload_failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()))
		return
	}
	if err := w.indexer.ReindexScope(ctx, scope, passages); err != nil {
		w.logger.Warn("scope_reindex_failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()))
	}
}
