package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/store"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []store.EnqueueRequest
	seen map[string]bool
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{seen: make(map[string]bool)}
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req store.EnqueueRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.DedupKey != "" && f.seen[req.DedupKey] {
		return 0, nil
	}
	f.seen[req.DedupKey] = true
	f.reqs = append(f.reqs, req)
	return int64(len(f.reqs)), nil
}

func (f *fakeEnqueuer) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reqs {
		out = append(out, r.DedupKey)
	}
	return out
}

func watchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, root string, q Enqueuer) context.CancelFunc {
	t.Helper()
	ref := &store.RepoRef{Name: "alpha", SchemaName: "rm_alpha", RootPath: root}
	w := New(ref, q, watchLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherEnqueuesOnWrite(t *testing.T) {
	root := t.TempDir()
	q := newFakeEnqueuer()
	startWatcher(t, root, q)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	waitFor(t, func() bool { return len(q.paths()) == 1 })
	q.mu.Lock()
	req := q.reqs[0]
	q.mu.Unlock()
	assert.Equal(t, store.JobReindexFile, req.Type)
	assert.Equal(t, "main.go", req.DedupKey)
	assert.JSONEq(t, `{"path":"main.go"}`, string(req.Payload))
}

func TestWatcherCoalescesRapidWrites(t *testing.T) {
	root := t.TempDir()
	q := newFakeEnqueuer()
	startWatcher(t, root, q)

	path := filepath.Join(root, "a.go")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package a\n// rev\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	waitFor(t, func() bool { return len(q.paths()) >= 1 })
	// The debounce window outlasts the write burst, so exactly one job.
	time.Sleep(debounceWindow + 2*flushInterval)
	assert.Len(t, q.paths(), 1)
}

func TestWatcherIgnoresUnsupportedFiles(t *testing.T) {
	root := t.TempDir()
	q := newFakeEnqueuer()
	startWatcher(t, root, q)

	require.NoError(t, os.WriteFile(filepath.Join(root, "image.png"), []byte{1, 2, 3}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package b\n"), 0o644))

	waitFor(t, func() bool { return len(q.paths()) == 1 })
	assert.Equal(t, []string{"b.go"}, q.paths())
}

func TestWatcherPicksUpDocFiles(t *testing.T) {
	root := t.TempDir()
	q := newFakeEnqueuer()
	startWatcher(t, root, q)

	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# hi\n"), 0o644))

	waitFor(t, func() bool { return len(q.paths()) == 1 })
	assert.Equal(t, []string{"README.md"}, q.paths())
}

func TestWatcherWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	q := newFakeEnqueuer()
	startWatcher(t, root, q)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// The new directory needs a moment to enter the watch set.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.go"), []byte("package pkg\n"), 0o644))

	waitFor(t, func() bool { return len(q.paths()) == 1 })
	assert.Equal(t, []string{"pkg/c.go"}, q.paths())
}

func TestWatcherSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	q := newFakeEnqueuer()
	startWatcher(t, root, q)

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "node_modules", "dep", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("y"), 0o644))

	waitFor(t, func() bool { return len(q.paths()) == 1 })
	assert.Equal(t, []string{"app.js"}, q.paths())
}
