package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// FileSHA returns the stored content hash for a relative path, or
// NotFound when the file has never been indexed.
func (s *Session) FileSHA(ctx context.Context, relPath string) (string, error) {
	var sha string
	err := s.QueryRow(ctx,
		`SELECT content_sha FROM file WHERE relative_path = $1`, relPath).Scan(&sha)
	if err == pgx.ErrNoRows {
		return "", rmerr.NotFound("file", relPath)
	}
	if err != nil {
		return "", rmerr.Wrap(rmerr.KindTransientIO, err, "file sha lookup")
	}
	return sha, nil
}

// UpsertFile inserts or replaces the file row for a path and returns its id.
func UpsertFile(ctx context.Context, tx pgx.Tx, f *File) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO file (relative_path, language, content_sha, mtime, indexed_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (relative_path) DO UPDATE SET
			language    = EXCLUDED.language,
			content_sha = EXCLUDED.content_sha,
			mtime       = EXCLUDED.mtime,
			indexed_at  = now()
		RETURNING id`,
		f.RelPath, f.Language, f.ContentSHA, f.ModTime).Scan(&id)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "upsert file %s", f.RelPath)
	}
	return id, nil
}

// DeleteFileChildren removes all derived rows for a file before a
// reindex: symbols (cascading their edges and chunk links) and chunks.
func DeleteFileChildren(ctx context.Context, tx pgx.Tx, fileID int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM chunk WHERE file_id = $1`, fileID); err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "delete chunks for file %d", fileID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM symbol WHERE file_id = $1`, fileID); err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "delete symbols for file %d", fileID)
	}
	return nil
}

// DeleteFile removes a file row and everything derived from it.
func (s *Session) DeleteFile(ctx context.Context, relPath string) error {
	_, err := s.Exec(ctx, `DELETE FROM file WHERE relative_path = $1`, relPath)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "delete file %s", relPath)
	}
	return nil
}

// ListFilePaths returns every indexed relative path.
func (s *Session) ListFilePaths(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT relative_path FROM file ORDER BY relative_path`)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list file paths")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan file path")
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// InsertSymbol adds a symbol row and returns its id.
func InsertSymbol(ctx context.Context, tx pgx.Tx, sym *Symbol) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO symbol (file_id, fqn, name, kind, signature, docstring,
			start_line, end_line, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fqn) DO UPDATE SET
			file_id      = EXCLUDED.file_id,
			name         = EXCLUDED.name,
			kind         = EXCLUDED.kind,
			signature    = EXCLUDED.signature,
			docstring    = EXCLUDED.docstring,
			start_line   = EXCLUDED.start_line,
			end_line     = EXCLUDED.end_line,
			content_hash = EXCLUDED.content_hash
		RETURNING id`,
		sym.FileID, sym.FQN, sym.Name, sym.Kind, sym.Signature, sym.Docstring,
		sym.StartLine, sym.EndLine, sym.ContentHash).Scan(&id)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "insert symbol %s", sym.FQN)
	}
	return id, nil
}

// InsertChunk adds a chunk row and returns its id. Identical chunks
// (same file, span, and content hash) are deduplicated.
func InsertChunk(ctx context.Context, tx pgx.Tx, c *Chunk) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO chunk (file_id, symbol_id, start_line, end_line, content, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_id, start_line, end_line, content_hash) DO UPDATE SET
			symbol_id = EXCLUDED.symbol_id
		RETURNING id`,
		c.FileID, c.SymbolID, c.StartLine, c.EndLine, c.Content, c.ContentHash).Scan(&id)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "insert chunk")
	}
	return id, nil
}

// InsertEdge adds an edge between two symbols; duplicates are ignored.
func InsertEdge(ctx context.Context, tx pgx.Tx, e *Edge) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO edge (src_symbol_id, dst_symbol_id, edge_type,
			evidence_file_id, evidence_start_line, evidence_end_line, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		e.SrcSymbolID, e.DstSymbolID, e.Type,
		e.EvidenceFile, e.EvidenceStart, e.EvidenceEnd, e.Confidence)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "insert edge")
	}
	return nil
}

// SymbolIDsByName resolves a bare name to candidate symbol ids,
// ordered for determinism.
func SymbolIDsByName(ctx context.Context, tx pgx.Tx, name string) ([]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT id FROM symbol WHERE name = $1 ORDER BY fqn`, name)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "symbol lookup %s", name)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan symbol id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SymbolByFQN returns the symbol with an exact fully qualified name.
func (s *Session) SymbolByFQN(ctx context.Context, fqn string) (*Symbol, error) {
	sym := &Symbol{}
	err := s.QueryRow(ctx, `
		SELECT id, file_id, fqn, name, kind, signature, docstring,
			start_line, end_line, content_hash
		FROM symbol WHERE fqn = $1`, fqn).Scan(
		&sym.ID, &sym.FileID, &sym.FQN, &sym.Name, &sym.Kind, &sym.Signature,
		&sym.Docstring, &sym.StartLine, &sym.EndLine, &sym.ContentHash)
	if err == pgx.ErrNoRows {
		return nil, rmerr.NotFound("symbol", fqn)
	}
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "symbol by fqn")
	}
	return sym, nil
}

// SymbolsByName returns all symbols carrying a bare name, ordered by fqn.
func (s *Session) SymbolsByName(ctx context.Context, name string) ([]Symbol, error) {
	rows, err := s.Query(ctx, `
		SELECT id, file_id, fqn, name, kind, signature, docstring,
			start_line, end_line, content_hash
		FROM symbol WHERE name = $1 ORDER BY fqn`, name)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "symbols by name")
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.ID, &sym.FileID, &sym.FQN, &sym.Name, &sym.Kind,
			&sym.Signature, &sym.Docstring, &sym.StartLine, &sym.EndLine,
			&sym.ContentHash); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan symbol")
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// UpsertDocument inserts or refreshes a documentation record and
// returns its id plus whether the content changed.
func (s *Session) UpsertDocument(ctx context.Context, d *Document) (int64, bool, error) {
	var (
		id      int64
		oldHash string
	)
	err := s.QueryRow(ctx, `
		SELECT id, content_hash FROM document
		WHERE doc_type = $1 AND path = $2 AND title = $3`,
		d.DocType, d.Path, d.Title).Scan(&id, &oldHash)
	switch {
	case err == nil:
		if oldHash == d.ContentHash {
			return id, false, nil
		}
		_, err = s.Exec(ctx, `
			UPDATE document SET content = $1, content_hash = $2, source = $3,
				updated_at = now()
			WHERE id = $4`, d.Content, d.ContentHash, d.Source, id)
		if err != nil {
			return 0, false, rmerr.Wrap(rmerr.KindTransientIO, err, "update document")
		}
		// Stale embedding no longer matches the content.
		if _, err := s.Exec(ctx,
			`DELETE FROM document_embedding WHERE document_id = $1`, id); err != nil {
			return 0, false, rmerr.Wrap(rmerr.KindTransientIO, err, "drop document embedding")
		}
		return id, true, nil
	case err == pgx.ErrNoRows:
		err = s.QueryRow(ctx, `
			INSERT INTO document (doc_type, source, path, title, content, content_hash)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			d.DocType, d.Source, d.Path, d.Title, d.Content, d.ContentHash).Scan(&id)
		if err != nil {
			return 0, false, rmerr.Wrap(rmerr.KindTransientIO, err, "insert document")
		}
		return id, true, nil
	default:
		return 0, false, rmerr.Wrap(rmerr.KindTransientIO, err, "document lookup")
	}
}

// EnsureTag returns the id for a tag name, creating it if needed.
func (s *Session) EnsureTag(ctx context.Context, name, description string) (int64, error) {
	var id int64
	err := s.QueryRow(ctx, `
		INSERT INTO tag (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description =
			CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description
			     ELSE tag.description END
		RETURNING id`, name, description).Scan(&id)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "ensure tag %s", name)
	}
	return id, nil
}

// ListTags returns all tags with their attachment counts.
func (s *Session) ListTags(ctx context.Context) ([]Tag, map[string]int, error) {
	rows, err := s.Query(ctx, `
		SELECT t.id, t.name, t.description, count(et.id)
		FROM tag t LEFT JOIN entity_tag et ON et.tag_id = t.id
		GROUP BY t.id, t.name, t.description
		ORDER BY t.name`)
	if err != nil {
		return nil, nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list tags")
	}
	defer rows.Close()

	var tags []Tag
	counts := make(map[string]int)
	for rows.Next() {
		var (
			tag Tag
			n   int
		)
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &n); err != nil {
			return nil, nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan tag")
		}
		tags = append(tags, tag)
		counts[tag.Name] = n
	}
	return tags, counts, rows.Err()
}

// AttachTag links an entity to a tag. Re-attaching updates source and
// confidence instead of erroring.
func (s *Session) AttachTag(ctx context.Context, entityType EntityType, entityID int64,
	tagID int64, source TagSource, confidence float32) error {
	_, err := s.Exec(ctx, `
		INSERT INTO entity_tag (entity_type, entity_id, tag_id, source, confidence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, entity_id, tag_id) DO UPDATE SET
			source = EXCLUDED.source, confidence = EXCLUDED.confidence`,
		entityType, entityID, tagID, source, confidence)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "attach tag")
	}
	return nil
}

// DetachTag removes a tag from an entity.
func (s *Session) DetachTag(ctx context.Context, entityType EntityType, entityID, tagID int64) error {
	_, err := s.Exec(ctx, `
		DELETE FROM entity_tag
		WHERE entity_type = $1 AND entity_id = $2 AND tag_id = $3`,
		entityType, entityID, tagID)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "detach tag")
	}
	return nil
}

// ReplaceTagRules swaps the full rule set for a tag.
func (s *Session) ReplaceTagRules(ctx context.Context, tagID int64, rules []TagRule) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tag_rule WHERE tag_id = $1`, tagID); err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "clear tag rules")
		}
		for _, r := range rules {
			if _, err := tx.Exec(ctx, `
				INSERT INTO tag_rule (tag_id, match_type, pattern, weight)
				VALUES ($1, $2, $3, $4)`,
				tagID, r.MatchType, r.Pattern, r.Weight); err != nil {
				return rmerr.Wrap(rmerr.KindTransientIO, err, "insert tag rule")
			}
		}
		return nil
	})
}

// ListTagRules returns every rule joined with its tag name.
func (s *Session) ListTagRules(ctx context.Context) ([]TagRule, error) {
	rows, err := s.Query(ctx, `
		SELECT r.id, r.tag_id, t.name, r.match_type, r.pattern, r.weight
		FROM tag_rule r JOIN tag t ON t.id = r.tag_id
		ORDER BY t.name, r.id`)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list tag rules")
	}
	defer rows.Close()

	var out []TagRule
	for rows.Next() {
		var r TagRule
		if err := rows.Scan(&r.ID, &r.TagID, &r.TagName, &r.MatchType,
			&r.Pattern, &r.Weight); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan tag rule")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateIndexState refreshes the aggregate counters after an index run.
func (s *Session) UpdateIndexState(ctx context.Context, marker string, lastErr string) error {
	_, err := s.Exec(ctx, `
		UPDATE repo_index_state SET
			last_indexed_at = now(),
			last_marker     = $1,
			last_error      = $2,
			file_count      = (SELECT count(*) FROM file),
			symbol_count    = (SELECT count(*) FROM symbol),
			chunk_count     = (SELECT count(*) FROM chunk),
			edge_count      = (SELECT count(*) FROM edge)`,
		marker, lastErr)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "update index state")
	}
	return nil
}

// IndexState returns the current aggregate counters.
func (s *Session) IndexState(ctx context.Context) (*IndexState, error) {
	st := &IndexState{}
	err := s.QueryRow(ctx, `
		SELECT last_indexed_at, coalesce(last_marker, ''), file_count,
			symbol_count, chunk_count, edge_count, coalesce(last_error, '')
		FROM repo_index_state`).Scan(
		&st.LastIndexedAt, &st.LastMarker, &st.FileCount,
		&st.SymbolCount, &st.ChunkCount, &st.EdgeCount, &st.LastError)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "read index state")
	}
	return st, nil
}

// MissingChunkEmbeddings returns ids of chunks with no embedding row,
// oldest first, capped at limit.
func (s *Session) MissingChunkEmbeddings(ctx context.Context, limit int) ([]Chunk, error) {
	rows, err := s.Query(ctx, `
		SELECT c.id, c.file_id, c.symbol_id, c.start_line, c.end_line,
			c.content, c.content_hash
		FROM chunk c LEFT JOIN chunk_embedding ce ON ce.chunk_id = c.id
		WHERE ce.chunk_id IS NULL
		ORDER BY c.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "missing chunk embeddings")
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.FileID, &c.SymbolID, &c.StartLine,
			&c.EndLine, &c.Content, &c.ContentHash); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan chunk")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MissingDocumentEmbeddings mirrors MissingChunkEmbeddings for documents.
func (s *Session) MissingDocumentEmbeddings(ctx context.Context, limit int) ([]Document, error) {
	rows, err := s.Query(ctx, `
		SELECT d.id, d.doc_type, d.source, d.path, d.title, d.content, d.content_hash
		FROM document d LEFT JOIN document_embedding de ON de.document_id = d.id
		WHERE de.document_id IS NULL
		ORDER BY d.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "missing document embeddings")
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.DocType, &d.Source, &d.Path, &d.Title,
			&d.Content, &d.ContentHash); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan document")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// StoreChunkEmbeddings writes embedding rows for a batch of chunks in
// one transaction, pipelined as a single batch round trip.
func (s *Session) StoreChunkEmbeddings(ctx context.Context, model string,
	ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return rmerr.New(rmerr.KindInternal, "embedding batch mismatch: %d ids, %d vectors",
			len(ids), len(vectors))
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for i, id := range ids {
			b.Queue(`
				INSERT INTO chunk_embedding (chunk_id, embedding, model)
				VALUES ($1, $2, $3)
				ON CONFLICT (chunk_id) DO UPDATE SET
					embedding = EXCLUDED.embedding,
					model     = EXCLUDED.model`,
				id, pgvector.NewVector(vectors[i]), model)
		}
		return runBatch(ctx, tx, b, "store chunk embeddings")
	})
}

// StoreDocumentEmbeddings writes embedding rows for documents.
func (s *Session) StoreDocumentEmbeddings(ctx context.Context, model string,
	ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return rmerr.New(rmerr.KindInternal, "embedding batch mismatch: %d ids, %d vectors",
			len(ids), len(vectors))
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for i, id := range ids {
			b.Queue(`
				INSERT INTO document_embedding (document_id, embedding, model)
				VALUES ($1, $2, $3)
				ON CONFLICT (document_id) DO UPDATE SET
					embedding = EXCLUDED.embedding,
					model     = EXCLUDED.model`,
				id, pgvector.NewVector(vectors[i]), model)
		}
		return runBatch(ctx, tx, b, "store document embeddings")
	})
}

// runBatch sends a queued batch and drains every result.
func runBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch, what string) error {
	br := tx.SendBatch(ctx, b)
	defer br.Close()
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "%s", what)
		}
	}
	return nil
}

// EmbeddingCoverage reports embedded vs total counts for chunks and documents.
func (s *Session) EmbeddingCoverage(ctx context.Context) (chunksDone, chunksTotal, docsDone, docsTotal int, err error) {
	err = s.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM chunk_embedding),
			(SELECT count(*) FROM chunk),
			(SELECT count(*) FROM document_embedding),
			(SELECT count(*) FROM document)`).
		Scan(&chunksDone, &chunksTotal, &docsDone, &docsTotal)
	if err != nil {
		err = rmerr.Wrap(rmerr.KindTransientIO, err, "embedding coverage")
	}
	return
}

// ChunkMeta is chunk identity plus file path, used when resolving
// search hits and graph evidence back to source locations.
type ChunkMeta struct {
	ID        int64
	FileID    int64
	SymbolID  *int64
	RelPath   string
	StartLine int
	EndLine   int
	Content   string
}

// ChunksForSymbol returns the chunks covering a symbol, ordered by span.
func (s *Session) ChunksForSymbol(ctx context.Context, symbolID int64) ([]ChunkMeta, error) {
	rows, err := s.Query(ctx, `
		SELECT c.id, c.file_id, c.symbol_id, f.relative_path,
			c.start_line, c.end_line, c.content
		FROM chunk c JOIN file f ON f.id = c.file_id
		WHERE c.symbol_id = $1
		ORDER BY c.start_line, c.end_line`, symbolID)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "chunks for symbol")
	}
	defer rows.Close()
	return scanChunkMeta(rows)
}

// FileHeaderChunk returns the file-scope chunk of a file, the one not
// tied to any symbol. NotFound when the file has none.
func (s *Session) FileHeaderChunk(ctx context.Context, fileID int64) (*ChunkMeta, error) {
	rows, err := s.Query(ctx, `
		SELECT c.id, c.file_id, c.symbol_id, f.relative_path,
			c.start_line, c.end_line, c.content
		FROM chunk c JOIN file f ON f.id = c.file_id
		WHERE c.file_id = $1 AND c.symbol_id IS NULL
		ORDER BY c.start_line
		LIMIT 1`, fileID)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "file header chunk")
	}
	defer rows.Close()
	metas, err := scanChunkMeta(rows)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, rmerr.NotFound("chunk", "file header")
	}
	return &metas[0], nil
}

// ChunkByID returns one chunk with its file path.
func (s *Session) ChunkByID(ctx context.Context, id int64) (*ChunkMeta, error) {
	rows, err := s.Query(ctx, `
		SELECT c.id, c.file_id, c.symbol_id, f.relative_path,
			c.start_line, c.end_line, c.content
		FROM chunk c JOIN file f ON f.id = c.file_id
		WHERE c.id = $1`, id)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "chunk by id")
	}
	defer rows.Close()
	metas, err := scanChunkMeta(rows)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, rmerr.NotFound("chunk", "")
	}
	return &metas[0], nil
}

func scanChunkMeta(rows pgx.Rows) ([]ChunkMeta, error) {
	var out []ChunkMeta
	for rows.Next() {
		var m ChunkMeta
		if err := rows.Scan(&m.ID, &m.FileID, &m.SymbolID, &m.RelPath,
			&m.StartLine, &m.EndLine, &m.Content); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan chunk meta")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneStaleFiles deletes files no longer present on disk, given the
// authoritative set of live paths. Returns the removed count.
func (s *Session) PruneStaleFiles(ctx context.Context, livePaths []string) (int, error) {
	tag, err := s.Exec(ctx,
		`DELETE FROM file WHERE NOT (relative_path = ANY($1))`, livePaths)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "prune stale files")
	}
	return int(tag.RowsAffected()), nil
}

// Neighbor is a symbol reached by following one edge, with the edge's
// metadata and the file holding the symbol.
type Neighbor struct {
	Symbol
	RelPath    string
	EdgeType   EdgeType
	Confidence float32
}

// Callers returns symbols with an edge into symbolID, ordered by fqn.
func (s *Session) Callers(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.neighbors(ctx, `
		SELECT sym.id, sym.file_id, sym.fqn, sym.name, sym.kind, sym.signature,
			sym.docstring, sym.start_line, sym.end_line, sym.content_hash,
			f.relative_path, e.edge_type, e.confidence
		FROM edge e
		JOIN symbol sym ON sym.id = e.src_symbol_id
		JOIN file f ON f.id = sym.file_id
		WHERE e.dst_symbol_id = $1
		ORDER BY sym.fqn`, symbolID)
}

// Callees returns symbols symbolID has an edge to, ordered by fqn.
func (s *Session) Callees(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.neighbors(ctx, `
		SELECT sym.id, sym.file_id, sym.fqn, sym.name, sym.kind, sym.signature,
			sym.docstring, sym.start_line, sym.end_line, sym.content_hash,
			f.relative_path, e.edge_type, e.confidence
		FROM edge e
		JOIN symbol sym ON sym.id = e.dst_symbol_id
		JOIN file f ON f.id = sym.file_id
		WHERE e.src_symbol_id = $1
		ORDER BY sym.fqn`, symbolID)
}

func (s *Session) neighbors(ctx context.Context, sql string, symbolID int64) ([]Neighbor, error) {
	rows, err := s.Query(ctx, sql, symbolID)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "neighbor query")
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.FileID, &n.FQN, &n.Name, &n.Kind,
			&n.Signature, &n.Docstring, &n.StartLine, &n.EndLine, &n.ContentHash,
			&n.RelPath, &n.EdgeType, &n.Confidence); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan neighbor")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FileHeader pairs a file with its header chunk content (module doc
// plus imports), the haystack for import-based tag rules.
type FileHeader struct {
	FileID  int64
	RelPath string
	Header  string
}

// ListFileHeaders returns every file with its header chunk content,
// empty when the file has none.
func (s *Session) ListFileHeaders(ctx context.Context) ([]FileHeader, error) {
	rows, err := s.Query(ctx, `
		SELECT f.id, f.relative_path, coalesce(c.content, '')
		FROM file f
		LEFT JOIN chunk c ON c.file_id = f.id AND c.symbol_id IS NULL AND c.start_line = 1
		ORDER BY f.relative_path`)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list file headers")
	}
	defer rows.Close()

	var out []FileHeader
	for rows.Next() {
		var fh FileHeader
		if err := rows.Scan(&fh.FileID, &fh.RelPath, &fh.Header); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan file header")
		}
		out = append(out, fh)
	}
	return out, rows.Err()
}

// ListSymbols returns all symbols ordered by fqn.
func (s *Session) ListSymbols(ctx context.Context) ([]Symbol, error) {
	rows, err := s.Query(ctx, `
		SELECT id, file_id, fqn, name, kind, signature, docstring,
			start_line, end_line, content_hash
		FROM symbol ORDER BY fqn`)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list symbols")
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.ID, &sym.FileID, &sym.FQN, &sym.Name, &sym.Kind,
			&sym.Signature, &sym.Docstring, &sym.StartLine, &sym.EndLine,
			&sym.ContentHash); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan symbol")
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SimilarChunk is one hit from a vector similarity probe.
type SimilarChunk struct {
	ChunkID    int64
	Similarity float32
}

// ChunksSimilarTo returns chunks whose embedding cosine similarity to
// vec meets the threshold, best first.
func (s *Session) ChunksSimilarTo(ctx context.Context, vec []float32,
	threshold float32, limit int) ([]SimilarChunk, error) {
	rows, err := s.Query(ctx, `
		SELECT chunk_id, 1 - (embedding <=> $1) AS sim
		FROM chunk_embedding
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY sim DESC
		LIMIT $3`, pgvector.NewVector(vec), threshold, limit)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "similarity probe")
	}
	defer rows.Close()

	var out []SimilarChunk
	for rows.Next() {
		var sc SimilarChunk
		if err := rows.Scan(&sc.ChunkID, &sc.Similarity); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan similarity")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// FileByID returns a file row by id.
func (s *Session) FileByID(ctx context.Context, id int64) (*File, error) {
	f := &File{}
	err := s.QueryRow(ctx, `
		SELECT id, relative_path, language, content_sha
		FROM file WHERE id = $1`, id).Scan(
		&f.ID, &f.RelPath, &f.Language, &f.ContentSHA)
	if err == pgx.ErrNoRows {
		return nil, rmerr.NotFound("file", fmt.Sprint(id))
	}
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "file by id")
	}
	return f, nil
}

// FileByPath returns a file row by relative path.
func (s *Session) FileByPath(ctx context.Context, relPath string) (*File, error) {
	f := &File{}
	var indexedAt *time.Time
	err := s.QueryRow(ctx, `
		SELECT id, relative_path, language, content_sha, mtime, indexed_at
		FROM file WHERE relative_path = $1`, relPath).Scan(
		&f.ID, &f.RelPath, &f.Language, &f.ContentSHA, &f.ModTime, &indexedAt)
	if err == pgx.ErrNoRows {
		return nil, rmerr.NotFound("file", relPath)
	}
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "file by path")
	}
	if indexedAt != nil {
		f.IndexedAt = *indexedAt
	}
	return f, nil
}
