package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// fakeBatchResults plays back canned outcomes for a sent batch.
type fakeBatchResults struct {
	failAt int // 1-based exec index that errors, 0 for none
	execs  int
	closed bool
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	r.execs++
	if r.failAt != 0 && r.execs == r.failAt {
		return pgconn.CommandTag{}, errors.New("insert rejected")
	}
	return pgconn.CommandTag{}, nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, nil }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (r *fakeBatchResults) Close() error             { r.closed = true; return nil }

// fakeTx overrides only SendBatch; everything else is unused here.
type fakeTx struct {
	pgx.Tx
	sent    *pgx.Batch
	results *fakeBatchResults
}

func (t *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	t.sent = b
	return t.results
}

func TestRunBatchDrainsEveryResult(t *testing.T) {
	b := &pgx.Batch{}
	b.Queue("INSERT INTO chunk_embedding VALUES ($1)", 1)
	b.Queue("INSERT INTO chunk_embedding VALUES ($1)", 2)
	b.Queue("INSERT INTO chunk_embedding VALUES ($1)", 3)

	tx := &fakeTx{results: &fakeBatchResults{}}
	require.NoError(t, runBatch(context.Background(), tx, b, "store chunk embeddings"))

	// One round trip carries the whole batch, and every result is read.
	assert.Same(t, b, tx.sent)
	assert.Equal(t, 3, tx.results.execs)
	assert.True(t, tx.results.closed)
}

func TestRunBatchWrapsExecError(t *testing.T) {
	b := &pgx.Batch{}
	b.Queue("INSERT INTO chunk_embedding VALUES ($1)", 1)
	b.Queue("INSERT INTO chunk_embedding VALUES ($1)", 2)

	tx := &fakeTx{results: &fakeBatchResults{failAt: 2}}
	err := runBatch(context.Background(), tx, b, "store chunk embeddings")
	require.Error(t, err)
	assert.Equal(t, rmerr.KindTransientIO, rmerr.KindOf(err))
	assert.True(t, tx.results.closed)
}
