package search

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

type fakeSearchStore struct {
	vecChunks  []store.Hit
	ftsChunks  []store.Hit
	vecDocs    []store.Hit
	ftsDocs    []store.Hit
	tagCounts  map[int64]int
	chunks     map[int64]*store.ChunkMeta
	documents  map[int64]*store.Document
	vecQueries int
	ftsQueries int
}

func (f *fakeSearchStore) VectorSearchChunks(context.Context, []float32, int, store.SearchFilters) ([]store.Hit, error) {
	f.vecQueries++
	return f.vecChunks, nil
}

func (f *fakeSearchStore) FTSSearchChunks(context.Context, string, int, store.SearchFilters) ([]store.Hit, error) {
	f.ftsQueries++
	return f.ftsChunks, nil
}

func (f *fakeSearchStore) VectorSearchDocuments(context.Context, []float32, int, store.SearchFilters) ([]store.Hit, error) {
	return f.vecDocs, nil
}

func (f *fakeSearchStore) FTSSearchDocuments(context.Context, string, int, store.SearchFilters) ([]store.Hit, error) {
	return f.ftsDocs, nil
}

func (f *fakeSearchStore) EntityTagMatches(_ context.Context, _ store.EntityType, ids []int64, _ []string) (map[int64]int, error) {
	out := make(map[int64]int)
	for _, id := range ids {
		if n, ok := f.tagCounts[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (f *fakeSearchStore) ChunkByID(_ context.Context, id int64) (*store.ChunkMeta, error) {
	if c, ok := f.chunks[id]; ok {
		return c, nil
	}
	return nil, rmerr.NotFound("chunk", "")
}

func (f *fakeSearchStore) DocumentByID(_ context.Context, id int64) (*store.Document, error) {
	if d, ok := f.documents[id]; ok {
		return d, nil
	}
	return nil, rmerr.NotFound("document", "")
}

type stubEmbedder struct {
	fail bool
}

func (s stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, rmerr.New(rmerr.KindTransientIO, "embedder down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (stubEmbedder) Dimension() int { return 3 }
func (stubEmbedder) Model() string  { return "stub" }

func searchCfg() config.SearchConfig {
	return config.SearchConfig{
		VectorTopK:          30,
		FTSTopK:             30,
		FinalTopK:           12,
		ContextBudgetTokens: 12000,
		GraphDepth:          2,
	}
}

func newTestRetriever(fs *fakeSearchStore, em stubEmbedder) *Retriever {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRetriever(fs, em, searchCfg(), log)
}

func baseStore() *fakeSearchStore {
	return &fakeSearchStore{
		chunks: map[int64]*store.ChunkMeta{
			1: {ID: 1, RelPath: "a.go", StartLine: 1, EndLine: 10, Content: "func A() {}"},
			2: {ID: 2, RelPath: "b.go", StartLine: 5, EndLine: 20, Content: "func B() {}"},
		},
		documents: map[int64]*store.Document{
			30: {ID: 30, Path: "README.md", Title: "README", Content: "welcome"},
		},
	}
}

func TestSearchFusesBothSources(t *testing.T) {
	fs := baseStore()
	fs.vecChunks = []store.Hit{chunkHit(1, 0.9), chunkHit(2, 0.7)}
	fs.ftsChunks = []store.Hit{chunkHit(2, 2.0)}

	r := newTestRetriever(fs, stubEmbedder{})
	resp, err := r.Search(context.Background(), Request{Query: "handler"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.False(t, resp.Degraded)

	// Chunk 2 appears in both sources and wins.
	assert.Equal(t, int64(2), resp.Results[0].EntityID)
	assert.Equal(t, "b.go", resp.Results[0].Path)
	assert.Contains(t, resp.Results[0].Explain.Why, "text #1")
}

func TestSearchDegradesWithoutEmbedder(t *testing.T) {
	fs := baseStore()
	fs.ftsChunks = []store.Hit{chunkHit(1, 1.0)}

	r := newTestRetriever(fs, stubEmbedder{fail: true})
	resp, err := r.Search(context.Background(), Request{Query: "handler"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(1), resp.Results[0].EntityID)
	assert.Equal(t, 0, fs.vecQueries)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	r := newTestRetriever(baseStore(), stubEmbedder{})
	_, err := r.Search(context.Background(), Request{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, rmerr.KindValidation, rmerr.KindOf(err))
}

func TestSearchEntityTypeFilter(t *testing.T) {
	fs := baseStore()
	fs.ftsChunks = []store.Hit{chunkHit(1, 1.0)}
	fs.ftsDocs = []store.Hit{{EntityType: store.EntityDocument, EntityID: 30, Score: 1.0}}

	r := newTestRetriever(fs, stubEmbedder{fail: true})
	resp, err := r.Search(context.Background(), Request{Query: "welcome", EntityTypes: []string{"document"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, store.EntityDocument, resp.Results[0].EntityType)
	assert.Equal(t, "README", resp.Results[0].Title)
}

func TestSearchTagBoostReorders(t *testing.T) {
	fs := baseStore()
	fs.ftsChunks = []store.Hit{chunkHit(1, 1.0), chunkHit(2, 1.0)}
	fs.tagCounts = map[int64]int{2: 1}

	r := newTestRetriever(fs, stubEmbedder{fail: true})
	resp, err := r.Search(context.Background(), Request{
		Query:   "handler",
		Filters: store.SearchFilters{TagsAny: []string{"auth"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, int64(2), resp.Results[0].EntityID)
	assert.InDelta(t, 0.25, resp.Results[0].Explain.TagBoost, 1e-9)
}

func TestSearchReturnsFullSnippets(t *testing.T) {
	// Snippets come back whole; the token budget gates graph context
	// packing, not search results.
	fs := baseStore()
	fs.chunks[1].Content = strings.Repeat("x", 100000)
	fs.chunks[2].Content = strings.Repeat("y", 100000)
	fs.ftsChunks = []store.Hit{chunkHit(1, 2.0), chunkHit(2, 1.0)}

	r := newTestRetriever(fs, stubEmbedder{fail: true})
	resp, err := r.Search(context.Background(), Request{Query: "handler"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Len(t, resp.Results[0].Snippet, 100000)
	assert.Len(t, resp.Results[1].Snippet, 100000)
}

func TestSearchCaches(t *testing.T) {
	fs := baseStore()
	fs.ftsChunks = []store.Hit{chunkHit(1, 1.0)}

	r := newTestRetriever(fs, stubEmbedder{fail: true})
	_, err := r.Search(context.Background(), Request{Query: "handler"})
	require.NoError(t, err)
	first := fs.ftsQueries

	_, err = r.Search(context.Background(), Request{Query: "handler"})
	require.NoError(t, err)
	assert.Equal(t, first, fs.ftsQueries, "second identical query should hit the cache")

	r.InvalidateCache()
	_, err = r.Search(context.Background(), Request{Query: "handler"})
	require.NoError(t, err)
	assert.Equal(t, first+1, fs.ftsQueries)
}
