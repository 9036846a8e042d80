// Package watcher turns filesystem events into reindex jobs. Rapid
// events on the same path are coalesced within a debounce window, and
// jobs are deduped by path so a file saved mid-index never queues
// twice.
package watcher

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/scanner"
	"github.com/robomonkey/robomonkey/internal/store"
)

// debounceWindow is how long a path must stay quiet before its reindex
// job is enqueued.
const debounceWindow = 500 * time.Millisecond

// flushInterval is how often pending paths are checked for quiescence.
const flushInterval = 100 * time.Millisecond

// Enqueuer is the queue surface the watcher needs. *store.Pool
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req store.EnqueueRequest) (int64, error)
}

// Watcher watches one repository tree.
type Watcher struct {
	ref   *store.RepoRef
	queue Enqueuer
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// New builds a watcher for a registered repository.
func New(ref *store.RepoRef, queue Enqueuer, log *slog.Logger) *Watcher {
	return &Watcher{
		ref:     ref,
		queue:   queue,
		log:     log,
		pending: make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return rmerr.Wrap(rmerr.KindPermanentIO, err, "create watcher for %s", w.ref.Name)
	}
	defer fsw.Close()

	sc := scanner.New(w.ref.RootPath, nil)
	if err := w.addRecursive(fsw, sc); err != nil {
		return err
	}

	w.log.Info("watching repository",
		slog.String("repo", w.ref.Name),
		slog.String("root", w.ref.RootPath))

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain what is pending so edits made just before shutdown
			// still reach the queue.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(drainCtx, 0)
			cancel()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, sc, event)

		case werr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error",
				slog.String("repo", w.ref.Name),
				slog.String("error", werr.Error()))

		case <-ticker.C:
			w.flush(ctx, debounceWindow)
		}
	}
}

// addRecursive registers every non-ignored directory under the root.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, sc *scanner.Scanner) error {
	return filepath.WalkDir(w.ref.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.ref.RootPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && sc.Ignored(rel) {
			return filepath.SkipDir
		}
		if aerr := fsw.Add(path); aerr != nil {
			w.log.Warn("watch add failed",
				slog.String("path", rel), slog.String("error", aerr.Error()))
		}
		return nil
	})
}

// handleEvent filters one raw event and marks its path pending. New
// directories are added to the watch set.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, sc *scanner.Scanner, event fsnotify.Event) {
	rel, err := filepath.Rel(w.ref.RootPath, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if sc.Ignored(rel) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, serr := os.Stat(event.Name); serr == nil && info.IsDir() {
			fsw.Add(event.Name)
			return
		}
	}
	if event.Op&fsnotify.Chmod != 0 && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	_, supported := scanner.DetectLanguage(rel)
	if !supported && !scanner.IsDocPath(rel) {
		return
	}

	w.mu.Lock()
	w.pending[rel] = time.Now()
	w.mu.Unlock()
}

// flush enqueues every path quiet for at least minQuiet. A zero
// minQuiet drains everything, used on shutdown.
func (w *Watcher) flush(ctx context.Context, minQuiet time.Duration) {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= minQuiet {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.enqueue(ctx, path)
	}
}

func (w *Watcher) enqueue(ctx context.Context, relPath string) {
	payload, _ := json.Marshal(map[string]string{"path": relPath})
	id, err := w.queue.Enqueue(ctx, store.EnqueueRequest{
		RepoName:   w.ref.Name,
		SchemaName: w.ref.SchemaName,
		Type:       store.JobReindexFile,
		Payload:    payload,
		DedupKey:   relPath,
	})
	if err != nil {
		w.log.Warn("reindex enqueue failed",
			slog.String("repo", w.ref.Name),
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		return
	}
	if id == 0 {
		w.log.Debug("reindex already queued",
			slog.String("repo", w.ref.Name), slog.String("path", relPath))
		return
	}
	w.log.Info("change detected",
		slog.String("repo", w.ref.Name),
		slog.String("path", relPath),
		slog.Int64("job_id", id))
}
