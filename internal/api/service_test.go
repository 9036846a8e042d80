package api

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/daemon"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

// fakeSession is an in-memory RepoSession.
type fakeSession struct {
	state    *store.IndexState
	symbols  []store.Symbol
	files    map[int64]*store.File
	callers  map[int64][]store.Neighbor
	callees  map[int64][]store.Neighbor
	chunks   map[int64]*store.ChunkMeta
	docs     map[int64]*store.Document
	ftsHits  []store.Hit
	tags     []store.Tag
	tagUse   map[string]int
	attached []string // "type:id:tag:source"
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:   &store.IndexState{},
		files:   make(map[int64]*store.File),
		callers: make(map[int64][]store.Neighbor),
		callees: make(map[int64][]store.Neighbor),
		chunks:  make(map[int64]*store.ChunkMeta),
		docs:    make(map[int64]*store.Document),
		tagUse:  make(map[string]int),
	}
}

func (f *fakeSession) Release() {}

func (f *fakeSession) IndexState(context.Context) (*store.IndexState, error) {
	return f.state, nil
}

func (f *fakeSession) EmbeddingCoverage(context.Context) (int, int, int, int, error) {
	return 3, 4, 1, 1, nil
}

func (f *fakeSession) SymbolByFQN(_ context.Context, fqn string) (*store.Symbol, error) {
	for i := range f.symbols {
		if f.symbols[i].FQN == fqn {
			return &f.symbols[i], nil
		}
	}
	return nil, rmerr.NotFound("symbol", fqn)
}

func (f *fakeSession) SymbolsByName(_ context.Context, name string) ([]store.Symbol, error) {
	var out []store.Symbol
	for _, s := range f.symbols {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSession) Callers(_ context.Context, id int64) ([]store.Neighbor, error) {
	return f.callers[id], nil
}

func (f *fakeSession) Callees(_ context.Context, id int64) ([]store.Neighbor, error) {
	return f.callees[id], nil
}

func (f *fakeSession) ChunksForSymbol(_ context.Context, id int64) ([]store.ChunkMeta, error) {
	var out []store.ChunkMeta
	for _, c := range f.chunks {
		if c.SymbolID != nil && *c.SymbolID == id {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeSession) FileHeaderChunk(_ context.Context, fileID int64) (*store.ChunkMeta, error) {
	for _, c := range f.chunks {
		if c.FileID == fileID && c.SymbolID == nil {
			return c, nil
		}
	}
	return nil, rmerr.NotFound("chunk", "file header")
}

func (f *fakeSession) FileByID(_ context.Context, id int64) (*store.File, error) {
	if file, ok := f.files[id]; ok {
		return file, nil
	}
	return nil, rmerr.NotFound("file", "id")
}

func (f *fakeSession) VectorSearchChunks(context.Context, []float32, int, store.SearchFilters) ([]store.Hit, error) {
	return nil, nil
}

func (f *fakeSession) FTSSearchChunks(context.Context, string, int, store.SearchFilters) ([]store.Hit, error) {
	return f.ftsHits, nil
}

func (f *fakeSession) VectorSearchDocuments(context.Context, []float32, int, store.SearchFilters) ([]store.Hit, error) {
	return nil, nil
}

func (f *fakeSession) FTSSearchDocuments(context.Context, string, int, store.SearchFilters) ([]store.Hit, error) {
	var out []store.Hit
	for id := range f.docs {
		out = append(out, store.Hit{EntityType: store.EntityDocument, EntityID: id, Score: 0.5})
	}
	return out, nil
}

func (f *fakeSession) EntityTagMatches(context.Context, store.EntityType, []int64, []string) (map[int64]int, error) {
	return map[int64]int{}, nil
}

func (f *fakeSession) ChunkByID(_ context.Context, id int64) (*store.ChunkMeta, error) {
	if c, ok := f.chunks[id]; ok {
		return c, nil
	}
	return nil, rmerr.NotFound("chunk", "id")
}

func (f *fakeSession) DocumentByID(_ context.Context, id int64) (*store.Document, error) {
	if d, ok := f.docs[id]; ok {
		return d, nil
	}
	return nil, rmerr.NotFound("document", "id")
}

func (f *fakeSession) ListTags(context.Context) ([]store.Tag, map[string]int, error) {
	return f.tags, f.tagUse, nil
}

func (f *fakeSession) EnsureTag(_ context.Context, name, description string) (int64, error) {
	for _, t := range f.tags {
		if t.Name == name {
			return t.ID, nil
		}
	}
	t := store.Tag{ID: int64(len(f.tags) + 1), Name: name, Description: description}
	f.tags = append(f.tags, t)
	return t.ID, nil
}

func (f *fakeSession) AttachTag(_ context.Context, et store.EntityType, _ int64,
	tagID int64, source store.TagSource, _ float32) error {
	var name string
	for _, t := range f.tags {
		if t.ID == tagID {
			name = t.Name
		}
	}
	f.attached = append(f.attached, strings.Join([]string{
		string(et), name, string(source)}, ":"))
	return nil
}

// fakeBackend serves one registered repo.
type fakeBackend struct {
	ref      store.RepoRef
	sess     *fakeSession
	enqueued []store.EnqueueRequest
	dedupe   map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		ref: store.RepoRef{
			Name: "alpha", SchemaName: "rm_alpha", RootPath: "/src/alpha",
			Enabled: true, AutoIndex: true, AutoEmbed: true,
		},
		sess:   newFakeSession(),
		dedupe: make(map[string]bool),
	}
}

func (b *fakeBackend) ResolveRepo(_ context.Context, name string) (*store.RepoRef, error) {
	if name != b.ref.Name {
		return nil, rmerr.NotFound("repo", name)
	}
	ref := b.ref
	return &ref, nil
}

func (b *fakeBackend) ListRepos(context.Context) ([]store.RepoRef, error) {
	return []store.RepoRef{b.ref}, nil
}

func (b *fakeBackend) Enqueue(_ context.Context, req store.EnqueueRequest) (int64, error) {
	if req.DedupKey != "" {
		key := string(req.Type) + "|" + req.DedupKey
		if b.dedupe[key] {
			return 0, nil
		}
		b.dedupe[key] = true
	}
	b.enqueued = append(b.enqueued, req)
	return int64(len(b.enqueued)), nil
}

func (b *fakeBackend) QueueDepths(context.Context, string) (map[store.JobStatus]int, error) {
	return map[store.JobStatus]int{store.JobPending: 2}, nil
}

func (b *fakeBackend) ListInstances(context.Context) ([]store.InstanceInfo, error) {
	return []store.InstanceInfo{{InstanceID: "i-1", Status: "RUNNING", PID: 42}}, nil
}

func (b *fakeBackend) Session(context.Context, string) (RepoSession, error) {
	return b.sess, nil
}

func newService(b *fakeBackend) *Service {
	cfg := config.Default()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(b, nil, cfg, log)
}

func TestPing(t *testing.T) {
	s := newService(newFakeBackend())
	res, err := s.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
}

func TestListRepos(t *testing.T) {
	s := newService(newFakeBackend())
	res, err := s.ListRepos(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Repos, 1)
	assert.Equal(t, "alpha", res.Repos[0].Name)
	assert.Equal(t, "rm_alpha", res.Repos[0].SchemaName)
}

func TestIndexStatus(t *testing.T) {
	b := newFakeBackend()
	at := time.Now()
	b.sess.state = &store.IndexState{
		LastIndexedAt: &at, LastMarker: "full:10/10",
		FileCount: 10, SymbolCount: 40, ChunkCount: 60, EdgeCount: 25,
	}
	s := newService(b)

	res, err := s.IndexStatus(context.Background(), &RepoParams{Repo: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "rm_alpha", res.SchemaName)
	assert.Equal(t, 10, res.Files)
	assert.Equal(t, 3, res.ChunksEmbedded)
	assert.Equal(t, 4, res.ChunksTotal)
	assert.Equal(t, 2, res.Queue[store.JobPending])
}

func TestIndexStatusUnknownRepo(t *testing.T) {
	s := newService(newFakeBackend())
	_, err := s.IndexStatus(context.Background(), &RepoParams{Repo: "nope"})
	assert.True(t, rmerr.IsNotFound(err))
}

func TestHybridSearchDegradedWithoutEmbedder(t *testing.T) {
	b := newFakeBackend()
	b.sess.ftsHits = []store.Hit{{EntityType: store.EntityChunk, EntityID: 7, Score: 0.9}}
	b.sess.chunks[7] = &store.ChunkMeta{
		ID: 7, FileID: 1, RelPath: "a.go", StartLine: 1, EndLine: 5, Content: "func A() {}",
	}
	s := newService(b)

	res, err := s.HybridSearch(context.Background(), &SearchParams{Repo: "alpha", Query: "A"})
	require.NoError(t, err)
	assert.Equal(t, "rm_alpha", res.SchemaName)
	assert.True(t, res.Degraded)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "a.go", res.Results[0].Path)
}

func TestDocSearchOnlyDocuments(t *testing.T) {
	b := newFakeBackend()
	b.sess.ftsHits = []store.Hit{{EntityType: store.EntityChunk, EntityID: 7, Score: 0.9}}
	b.sess.chunks[7] = &store.ChunkMeta{ID: 7, RelPath: "a.go", Content: "code"}
	b.sess.docs[3] = &store.Document{ID: 3, Path: "README.md", Title: "Readme", Content: "docs"}
	s := newService(b)

	res, err := s.DocSearch(context.Background(), &SearchParams{Repo: "alpha", Query: "readme"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, store.EntityDocument, res.Results[0].EntityType)
}

func TestSearchValidation(t *testing.T) {
	s := newService(newFakeBackend())
	_, err := s.HybridSearch(context.Background(), &SearchParams{Repo: "alpha"})
	assert.Equal(t, rmerr.KindValidation, rmerr.KindOf(err))

	_, err = s.HybridSearch(context.Background(), &SearchParams{Query: "x"})
	assert.Equal(t, rmerr.KindValidation, rmerr.KindOf(err))
}

func TestSymbolLookupExactFQN(t *testing.T) {
	b := newFakeBackend()
	b.sess.symbols = []store.Symbol{
		{ID: 1, FileID: 1, FQN: "pkg.a.Run", Name: "Run", Kind: "function"},
		{ID: 2, FileID: 2, FQN: "pkg.b.Run", Name: "Run", Kind: "function"},
	}
	b.sess.files[1] = &store.File{ID: 1, RelPath: "pkg/a.go"}
	b.sess.files[2] = &store.File{ID: 2, RelPath: "pkg/b.go"}
	s := newService(b)

	res, err := s.SymbolLookup(context.Background(), &SymbolParams{Repo: "alpha", Symbol: "pkg.a.Run"})
	require.NoError(t, err)
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, "pkg/a.go", res.Symbols[0].Path)
}

func TestSymbolLookupBareNameReturnsAll(t *testing.T) {
	b := newFakeBackend()
	b.sess.symbols = []store.Symbol{
		{ID: 1, FileID: 1, FQN: "pkg.a.Run", Name: "Run"},
		{ID: 2, FileID: 2, FQN: "pkg.b.Run", Name: "Run"},
	}
	b.sess.files[1] = &store.File{ID: 1, RelPath: "pkg/a.go"}
	b.sess.files[2] = &store.File{ID: 2, RelPath: "pkg/b.go"}
	s := newService(b)

	res, err := s.SymbolLookup(context.Background(), &SymbolParams{Repo: "alpha", Symbol: "Run"})
	require.NoError(t, err)
	assert.Len(t, res.Symbols, 2)
}

func TestSymbolLookupNotFound(t *testing.T) {
	s := newService(newFakeBackend())
	_, err := s.SymbolLookup(context.Background(), &SymbolParams{Repo: "alpha", Symbol: "Ghost"})
	assert.True(t, rmerr.IsNotFound(err))
}

func TestCallersAndCallees(t *testing.T) {
	b := newFakeBackend()
	b.sess.symbols = []store.Symbol{{ID: 1, FileID: 1, FQN: "pkg.a.Run", Name: "Run"}}
	b.sess.callers[1] = []store.Neighbor{{
		Symbol:   store.Symbol{ID: 2, FQN: "pkg.b.Main", Name: "Main"},
		RelPath:  "pkg/b.go",
		EdgeType: store.EdgeCalls, Confidence: 1,
	}}
	s := newService(b)

	res, err := s.Callers(context.Background(), &SymbolParams{Repo: "alpha", Symbol: "pkg.a.Run"})
	require.NoError(t, err)
	require.Len(t, res.Neighbors, 1)
	assert.Equal(t, "pkg.b.Main", res.Neighbors[0].FQN)
	assert.Equal(t, store.EdgeCalls, res.Neighbors[0].EdgeType)

	res, err = s.Callees(context.Background(), &SymbolParams{Repo: "alpha", Symbol: "pkg.a.Run"})
	require.NoError(t, err)
	assert.Empty(t, res.Neighbors)
}

func TestListTags(t *testing.T) {
	b := newFakeBackend()
	b.sess.tags = []store.Tag{{ID: 1, Name: "database", Description: "db code"}}
	b.sess.tagUse["database"] = 5
	s := newService(b)

	res, err := s.ListTags(context.Background(), &RepoParams{Repo: "alpha"})
	require.NoError(t, err)
	require.Len(t, res.Tags, 1)
	assert.Equal(t, 5, res.Tags[0].Entities)
}

func TestTagEntityNormalizesAndDefaults(t *testing.T) {
	b := newFakeBackend()
	s := newService(b)

	res, err := s.TagEntity(context.Background(), &TagEntityParams{
		Repo: "alpha", EntityType: "chunk", EntityID: 9, Tag: "Database",
	})
	require.NoError(t, err)
	assert.NotZero(t, res.TagID)
	require.Len(t, b.sess.attached, 1)
	assert.Equal(t, "chunk:database:MANUAL", b.sess.attached[0])
}

func TestTagEntityValidation(t *testing.T) {
	s := newService(newFakeBackend())
	_, err := s.TagEntity(context.Background(), &TagEntityParams{
		Repo: "alpha", EntityType: "galaxy", EntityID: 1, Tag: "x",
	})
	assert.Equal(t, rmerr.KindValidation, rmerr.KindOf(err))
}

func TestEnqueueReindexFileDedupes(t *testing.T) {
	b := newFakeBackend()
	s := newService(b)

	res, err := s.EnqueueReindexFile(context.Background(),
		&ReindexFileParams{Repo: "alpha", Path: "a.go"})
	require.NoError(t, err)
	assert.False(t, res.Deduped)
	assert.NotZero(t, res.JobID)

	res, err = s.EnqueueReindexFile(context.Background(),
		&ReindexFileParams{Repo: "alpha", Path: "a.go"})
	require.NoError(t, err)
	assert.True(t, res.Deduped)

	require.Len(t, b.enqueued, 1)
	assert.Equal(t, store.JobReindexFile, b.enqueued[0].Type)
	assert.JSONEq(t, `{"path":"a.go"}`, string(b.enqueued[0].Payload))
}

func TestEnqueueReindexMany(t *testing.T) {
	b := newFakeBackend()
	s := newService(b)

	res, err := s.EnqueueReindexMany(context.Background(),
		&ReindexManyParams{Repo: "alpha", Paths: []string{"a.go", "b.go"}})
	require.NoError(t, err)
	assert.False(t, res.Deduped)
	assert.JSONEq(t, `{"paths":["a.go","b.go"]}`, string(b.enqueued[0].Payload))
}

func TestDaemonStatus(t *testing.T) {
	s := newService(newFakeBackend())
	s.Workers = func() daemon.Status {
		return daemon.Status{InstanceID: "i-1", ActiveJobs: 1, GlobalLimit: 4, PerRepo: 2}
	}

	res, err := s.DaemonStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, "RUNNING", res.Instances[0].Status)
	require.NotNil(t, res.Worker)
	assert.Equal(t, 1, res.Worker.ActiveJobs)
}

func TestInvalidateRepoDropsCachedResults(t *testing.T) {
	b := newFakeBackend()
	b.sess.ftsHits = []store.Hit{{EntityType: store.EntityChunk, EntityID: 7, Score: 0.9}}
	b.sess.chunks[7] = &store.ChunkMeta{ID: 7, RelPath: "a.go", Content: "one"}
	s := newService(b)

	res, err := s.HybridSearch(context.Background(), &SearchParams{Repo: "alpha", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "one", res.Results[0].Snippet)

	// A data change behind a cached query is invisible until
	// invalidation.
	b.sess.chunks[7].Content = "two"
	res, err = s.HybridSearch(context.Background(), &SearchParams{Repo: "alpha", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "one", res.Results[0].Snippet)

	s.InvalidateRepo("alpha")
	res, err = s.HybridSearch(context.Background(), &SearchParams{Repo: "alpha", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "two", res.Results[0].Snippet)
}
