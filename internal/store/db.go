// Package store is the persistence layer: a shared Postgres database
// holding one control schema plus one schema per repository. All vector,
// full-text, and queue state lives here.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// Pool wraps a pgx connection pool with schema scoping.
type Pool struct {
	pool *pgxpool.Pool
	// controlSchema is the reserved schema holding the registry and queue.
	controlSchema string
	// schemaPrefix prefixes every per-repo schema name.
	schemaPrefix string
	// dimension is the configured embedding dimension, baked into DDL.
	dimension int
}

// Open connects to the database and ensures the control schema exists.
func Open(ctx context.Context, databaseURL, schemaPrefix string, dimension int) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "connect to database")
	}

	p := &Pool{
		pool:          pool,
		controlSchema: schemaPrefix + "control",
		schemaPrefix:  schemaPrefix,
		dimension:     dimension,
	}
	if err := p.ensureControlSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// ControlSchema returns the reserved control schema name.
func (p *Pool) ControlSchema() string { return p.controlSchema }

// Dimension returns the configured embedding dimension.
func (p *Pool) Dimension() int { return p.dimension }

// Session is a database session scoped to one schema via search_path.
// Every unqualified table name in queries on the session resolves inside
// that schema. Release must be called on all exit paths.
type Session struct {
	conn   *pgxpool.Conn
	schema string
}

// Scoped acquires a connection and sets its search path to
// "<schema>, public". The schema name must have been produced by
// SanitizeSchemaName; it is interpolated, not parameterized, because
// Postgres does not allow parameters in SET.
func (p *Pool) Scoped(ctx context.Context, schema string) (*Session, error) {
	if !validSchemaName(schema) {
		return nil, rmerr.New(rmerr.KindValidation, "invalid schema name %q", schema)
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "acquire connection")
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		conn.Release()
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scope session to %s", schema)
	}
	return &Session{conn: conn, schema: schema}, nil
}

// Schema returns the schema this session is scoped to.
func (s *Session) Schema() string { return s.schema }

// Release resets the search path and returns the connection to the pool.
func (s *Session) Release() {
	if s.conn == nil {
		return
	}
	// Reset outside the request context so release always succeeds.
	if _, err := s.conn.Exec(context.Background(), "RESET search_path"); err != nil {
		slog.Warn("reset search_path failed", slog.String("error", err.Error()))
	}
	s.conn.Release()
	s.conn = nil
}

// Query runs a query on the scoped connection.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query on the scoped connection.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

// Exec runs a statement on the scoped connection.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

// WithTx runs fn inside a transaction on the scoped connection,
// committing on nil and rolling back on error or panic.
func (s *Session) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "commit transaction")
	}
	return nil
}

// exec runs a control-schema statement directly on the pool.
func (p *Pool) exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "db exec")
	}
	return nil
}
