package api

import (
	"context"
	"encoding/json"

	"github.com/robomonkey/robomonkey/internal/store"
)

// repoStore gives the retriever and expander a persistent store view of
// one repository. Each call opens a scoped session and releases it, so
// the view holds no connection between queries.
type repoStore struct {
	backend Backend
	schema  string
}

func withSession[T any](ctx context.Context, r *repoStore,
	fn func(sess RepoSession) (T, error)) (T, error) {

	sess, err := r.backend.Session(ctx, r.schema)
	if err != nil {
		var zero T
		return zero, err
	}
	defer sess.Release()
	return fn(sess)
}

func (r *repoStore) VectorSearchChunks(ctx context.Context, vec []float32, k int,
	f store.SearchFilters) ([]store.Hit, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Hit, error) {
		return sess.VectorSearchChunks(ctx, vec, k, f)
	})
}

func (r *repoStore) FTSSearchChunks(ctx context.Context, query string, k int,
	f store.SearchFilters) ([]store.Hit, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Hit, error) {
		return sess.FTSSearchChunks(ctx, query, k, f)
	})
}

func (r *repoStore) VectorSearchDocuments(ctx context.Context, vec []float32, k int,
	f store.SearchFilters) ([]store.Hit, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Hit, error) {
		return sess.VectorSearchDocuments(ctx, vec, k, f)
	})
}

func (r *repoStore) FTSSearchDocuments(ctx context.Context, query string, k int,
	f store.SearchFilters) ([]store.Hit, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Hit, error) {
		return sess.FTSSearchDocuments(ctx, query, k, f)
	})
}

func (r *repoStore) EntityTagMatches(ctx context.Context, et store.EntityType,
	ids []int64, tagNames []string) (map[int64]int, error) {
	return withSession(ctx, r, func(sess RepoSession) (map[int64]int, error) {
		return sess.EntityTagMatches(ctx, et, ids, tagNames)
	})
}

func (r *repoStore) ChunkByID(ctx context.Context, id int64) (*store.ChunkMeta, error) {
	return withSession(ctx, r, func(sess RepoSession) (*store.ChunkMeta, error) {
		return sess.ChunkByID(ctx, id)
	})
}

func (r *repoStore) DocumentByID(ctx context.Context, id int64) (*store.Document, error) {
	return withSession(ctx, r, func(sess RepoSession) (*store.Document, error) {
		return sess.DocumentByID(ctx, id)
	})
}

func (r *repoStore) SymbolByFQN(ctx context.Context, fqn string) (*store.Symbol, error) {
	return withSession(ctx, r, func(sess RepoSession) (*store.Symbol, error) {
		return sess.SymbolByFQN(ctx, fqn)
	})
}

func (r *repoStore) SymbolsByName(ctx context.Context, name string) ([]store.Symbol, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Symbol, error) {
		return sess.SymbolsByName(ctx, name)
	})
}

func (r *repoStore) Callers(ctx context.Context, symbolID int64) ([]store.Neighbor, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Neighbor, error) {
		return sess.Callers(ctx, symbolID)
	})
}

func (r *repoStore) Callees(ctx context.Context, symbolID int64) ([]store.Neighbor, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.Neighbor, error) {
		return sess.Callees(ctx, symbolID)
	})
}

func (r *repoStore) ChunksForSymbol(ctx context.Context, symbolID int64) ([]store.ChunkMeta, error) {
	return withSession(ctx, r, func(sess RepoSession) ([]store.ChunkMeta, error) {
		return sess.ChunksForSymbol(ctx, symbolID)
	})
}

func (r *repoStore) FileHeaderChunk(ctx context.Context, fileID int64) (*store.ChunkMeta, error) {
	return withSession(ctx, r, func(sess RepoSession) (*store.ChunkMeta, error) {
		return sess.FileHeaderChunk(ctx, fileID)
	})
}

func (r *repoStore) FileByID(ctx context.Context, id int64) (*store.File, error) {
	return withSession(ctx, r, func(sess RepoSession) (*store.File, error) {
		return sess.FileByID(ctx, id)
	})
}

// mustJSON marshals a payload whose shape is fixed at compile time.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
