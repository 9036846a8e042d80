package store

import (
	"context"
	"fmt"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// ensureControlSchema creates the reserved control schema, the required
// extensions, and the registry/queue tables. Idempotent.
func (p *Pool) ensureControlSchema(ctx context.Context) error {
	ctl := p.controlSchema
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, ctl),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.repo_registry (
			name         TEXT PRIMARY KEY,
			schema_name  TEXT NOT NULL UNIQUE,
			root_path    TEXT NOT NULL,
			enabled      BOOLEAN NOT NULL DEFAULT TRUE,
			auto_index   BOOLEAN NOT NULL DEFAULT TRUE,
			auto_embed   BOOLEAN NOT NULL DEFAULT TRUE,
			auto_watch   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen_at TIMESTAMPTZ,
			config       JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, ctl),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.job_queue (
			id           BIGSERIAL PRIMARY KEY,
			repo_name    TEXT NOT NULL REFERENCES %s.repo_registry(name) ON DELETE CASCADE,
			schema_name  TEXT NOT NULL,
			job_type     TEXT NOT NULL,
			payload      JSONB NOT NULL DEFAULT '{}'::jsonb,
			priority     INT NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'PENDING',
			attempts     INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 5,
			run_after    TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			claimed_at   TIMESTAMPTZ,
			claimed_by   TEXT,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error        TEXT,
			error_detail JSONB,
			dedup_key    TEXT
		)`, ctl, ctl),

		// At most one live job per (repo, type, dedup_key).
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS job_queue_dedup_idx
			ON %s.job_queue (repo_name, job_type, dedup_key)
			WHERE status IN ('PENDING','CLAIMED') AND dedup_key IS NOT NULL`, ctl),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS job_queue_claim_idx
			ON %s.job_queue (status, run_after, priority DESC, created_at)`, ctl),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.daemon_instance (
			instance_id    TEXT PRIMARY KEY,
			hostname       TEXT NOT NULL,
			pid            INT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'RUNNING',
			started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, ctl),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.job_stats (
			day      DATE NOT NULL,
			job_type TEXT NOT NULL,
			done     INT NOT NULL DEFAULT 0,
			failed   INT NOT NULL DEFAULT 0,
			PRIMARY KEY (day, job_type)
		)`, ctl),
	}
	for _, stmt := range stmts {
		if err := p.exec(ctx, stmt); err != nil {
			return fmt.Errorf("control schema setup: %w", err)
		}
	}
	return nil
}

// repoDDL returns the per-repo DDL statements. The schema name is
// validated before interpolation; the vector dimension comes from
// configuration and is fixed for the life of the schema.
func repoDDL(schema string, dimension int) []string {
	q := func(format string, args ...any) string {
		return fmt.Sprintf(format, args...)
	}
	return []string{
		q(`CREATE SCHEMA %s`, schema),

		q(`CREATE TABLE %s.repo (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			root_path  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schema),

		q(`CREATE TABLE %s.repo_index_state (
			repo_id         UUID PRIMARY KEY REFERENCES %s.repo(id) ON DELETE CASCADE,
			last_indexed_at TIMESTAMPTZ,
			last_marker     TEXT,
			file_count      INT NOT NULL DEFAULT 0,
			symbol_count    INT NOT NULL DEFAULT 0,
			chunk_count     INT NOT NULL DEFAULT 0,
			edge_count      INT NOT NULL DEFAULT 0,
			last_error      TEXT
		)`, schema, schema),

		q(`CREATE TABLE %s.file (
			id            BIGSERIAL PRIMARY KEY,
			relative_path TEXT NOT NULL UNIQUE,
			language      TEXT NOT NULL,
			content_sha   TEXT NOT NULL,
			mtime         TIMESTAMPTZ,
			indexed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schema),
		q(`CREATE INDEX file_path_trgm_idx ON %s.file USING GIN (relative_path gin_trgm_ops)`, schema),

		q(`CREATE TABLE %s.symbol (
			id           BIGSERIAL PRIMARY KEY,
			file_id      BIGINT NOT NULL REFERENCES %s.file(id) ON DELETE CASCADE,
			fqn          TEXT NOT NULL UNIQUE,
			name         TEXT NOT NULL,
			kind         TEXT NOT NULL,
			signature    TEXT,
			docstring    TEXT,
			start_line   INT NOT NULL,
			end_line     INT NOT NULL,
			content_hash TEXT NOT NULL,
			fts          tsvector
		)`, schema, schema),
		q(`CREATE INDEX symbol_name_idx ON %s.symbol (name)`, schema),
		q(`CREATE INDEX symbol_name_trgm_idx ON %s.symbol USING GIN (name gin_trgm_ops)`, schema),
		q(`CREATE INDEX symbol_fts_idx ON %s.symbol USING GIN (fts)`, schema),
		q(`CREATE FUNCTION %s.symbol_fts_update() RETURNS trigger AS $$
			BEGIN
				NEW.fts := to_tsvector('simple',
					coalesce(NEW.name,'') || ' ' || coalesce(NEW.fqn,'') || ' ' ||
					coalesce(NEW.signature,'') || ' ' || coalesce(NEW.docstring,''));
				RETURN NEW;
			END
		$$ LANGUAGE plpgsql`, schema),
		q(`CREATE TRIGGER symbol_fts_trg BEFORE INSERT OR UPDATE ON %s.symbol
			FOR EACH ROW EXECUTE FUNCTION %s.symbol_fts_update()`, schema, schema),

		q(`CREATE TABLE %s.edge (
			id                  BIGSERIAL PRIMARY KEY,
			src_symbol_id       BIGINT NOT NULL REFERENCES %s.symbol(id) ON DELETE CASCADE,
			dst_symbol_id       BIGINT NOT NULL REFERENCES %s.symbol(id) ON DELETE CASCADE,
			edge_type           TEXT NOT NULL,
			evidence_file_id    BIGINT REFERENCES %s.file(id) ON DELETE CASCADE,
			evidence_start_line INT NOT NULL DEFAULT 0,
			evidence_end_line   INT NOT NULL DEFAULT 0,
			confidence          REAL NOT NULL DEFAULT 1.0,
			UNIQUE (src_symbol_id, dst_symbol_id, edge_type, evidence_file_id, evidence_start_line, evidence_end_line)
		)`, schema, schema, schema, schema),
		q(`CREATE INDEX edge_src_idx ON %s.edge (src_symbol_id, edge_type)`, schema),
		q(`CREATE INDEX edge_dst_idx ON %s.edge (dst_symbol_id, edge_type)`, schema),

		q(`CREATE TABLE %s.chunk (
			id           BIGSERIAL PRIMARY KEY,
			file_id      BIGINT NOT NULL REFERENCES %s.file(id) ON DELETE CASCADE,
			symbol_id    BIGINT REFERENCES %s.symbol(id) ON DELETE SET NULL,
			start_line   INT NOT NULL,
			end_line     INT NOT NULL,
			content      TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			fts          tsvector,
			UNIQUE (file_id, start_line, end_line, content_hash)
		)`, schema, schema, schema),
		q(`CREATE INDEX chunk_fts_idx ON %s.chunk USING GIN (fts)`, schema),
		q(`CREATE INDEX chunk_hash_idx ON %s.chunk (content_hash)`, schema),
		q(`CREATE FUNCTION %s.chunk_fts_update() RETURNS trigger AS $$
			BEGIN
				NEW.fts := to_tsvector('simple', coalesce(NEW.content,''));
				RETURN NEW;
			END
		$$ LANGUAGE plpgsql`, schema),
		q(`CREATE TRIGGER chunk_fts_trg BEFORE INSERT OR UPDATE ON %s.chunk
			FOR EACH ROW EXECUTE FUNCTION %s.chunk_fts_update()`, schema, schema),

		q(`CREATE TABLE %s.chunk_embedding (
			chunk_id   BIGINT PRIMARY KEY REFERENCES %s.chunk(id) ON DELETE CASCADE,
			embedding  vector(%d) NOT NULL,
			model      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schema, schema, dimension),
		q(`CREATE INDEX chunk_embedding_cos_idx ON %s.chunk_embedding
			USING hnsw (embedding vector_cosine_ops)`, schema),

		q(`CREATE TABLE %s.document (
			id           BIGSERIAL PRIMARY KEY,
			doc_type     TEXT NOT NULL,
			source       TEXT NOT NULL,
			path         TEXT,
			title        TEXT NOT NULL,
			content      TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			fts          tsvector,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (doc_type, path, title)
		)`, schema),
		q(`CREATE INDEX document_fts_idx ON %s.document USING GIN (fts)`, schema),
		q(`CREATE FUNCTION %s.document_fts_update() RETURNS trigger AS $$
			BEGIN
				NEW.fts := to_tsvector('simple',
					coalesce(NEW.title,'') || ' ' || coalesce(NEW.content,''));
				RETURN NEW;
			END
		$$ LANGUAGE plpgsql`, schema),
		q(`CREATE TRIGGER document_fts_trg BEFORE INSERT OR UPDATE ON %s.document
			FOR EACH ROW EXECUTE FUNCTION %s.document_fts_update()`, schema, schema),

		q(`CREATE TABLE %s.document_embedding (
			document_id BIGINT PRIMARY KEY REFERENCES %s.document(id) ON DELETE CASCADE,
			embedding   vector(%d) NOT NULL,
			model       TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schema, schema, dimension),
		q(`CREATE INDEX document_embedding_cos_idx ON %s.document_embedding
			USING hnsw (embedding vector_cosine_ops)`, schema),

		q(`CREATE TABLE %s.tag (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT
		)`, schema),

		q(`CREATE TABLE %s.entity_tag (
			id          BIGSERIAL PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id   BIGINT NOT NULL,
			tag_id      BIGINT NOT NULL REFERENCES %s.tag(id) ON DELETE CASCADE,
			source      TEXT NOT NULL,
			confidence  REAL NOT NULL DEFAULT 1.0,
			UNIQUE (entity_type, entity_id, tag_id)
		)`, schema, schema),
		q(`CREATE INDEX entity_tag_lookup_idx ON %s.entity_tag (entity_type, entity_id)`, schema),

		q(`CREATE TABLE %s.tag_rule (
			id         BIGSERIAL PRIMARY KEY,
			tag_id     BIGINT NOT NULL REFERENCES %s.tag(id) ON DELETE CASCADE,
			match_type TEXT NOT NULL,
			pattern    TEXT NOT NULL,
			weight     REAL NOT NULL DEFAULT 1.0,
			UNIQUE (tag_id, match_type, pattern)
		)`, schema, schema),
	}
}

// applyRepoDDL executes the per-repo DDL inside one transaction so a
// half-created schema never survives a failure.
func (p *Pool) applyRepoDDL(ctx context.Context, schema string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "begin schema creation")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range repoDDL(schema, p.dimension) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "apply DDL for %s", schema)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "commit schema creation")
	}
	return nil
}
