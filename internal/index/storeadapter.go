package index

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/robomonkey/robomonkey/internal/store"
)

// SessionStore adapts a schema-scoped store session to the indexer's
// store interfaces.
type SessionStore struct {
	*store.Session
}

// NewSessionStore wraps a scoped session.
func NewSessionStore(s *store.Session) *SessionStore {
	return &SessionStore{Session: s}
}

// InTx runs fn with a transactional view of the session.
func (s *SessionStore) InTx(ctx context.Context, fn func(TxStore) error) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (t txStore) UpsertFile(ctx context.Context, f *store.File) (int64, error) {
	return store.UpsertFile(ctx, t.tx, f)
}

func (t txStore) DeleteFileChildren(ctx context.Context, fileID int64) error {
	return store.DeleteFileChildren(ctx, t.tx, fileID)
}

func (t txStore) InsertSymbol(ctx context.Context, sym *store.Symbol) (int64, error) {
	return store.InsertSymbol(ctx, t.tx, sym)
}

func (t txStore) InsertChunk(ctx context.Context, c *store.Chunk) (int64, error) {
	return store.InsertChunk(ctx, t.tx, c)
}

func (t txStore) InsertEdge(ctx context.Context, e *store.Edge) error {
	return store.InsertEdge(ctx, t.tx, e)
}

func (t txStore) SymbolIDsByName(ctx context.Context, name string) ([]int64, error) {
	return store.SymbolIDsByName(ctx, t.tx, name)
}
