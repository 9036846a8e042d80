package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// SearchFilters narrow search to a path prefix, a language, or entities
// carrying tags. TagsAny requires at least one of the named tags;
// TagsAll requires every one.
type SearchFilters struct {
	PathPrefix string
	Language   string
	TagsAny    []string
	TagsAll    []string
}

// Hit is one raw candidate from a single retrieval source.
type Hit struct {
	EntityType EntityType
	EntityID   int64
	Score      float64
}

// chunkFilterClauses renders the shared filter SQL for chunk queries.
// Argument numbering starts after the fixed arguments.
func chunkFilterClauses(f SearchFilters, firstArg int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	n := firstArg
	if f.PathPrefix != "" {
		clauses = append(clauses, fmt.Sprintf("f.relative_path LIKE $%d || '%%'", n))
		args = append(args, f.PathPrefix)
		n++
	}
	if f.Language != "" {
		clauses = append(clauses, fmt.Sprintf("f.language = $%d", n))
		args = append(args, f.Language)
		n++
	}
	if len(f.TagsAny) > 0 {
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM entity_tag et JOIN tag t ON t.id = et.tag_id
			WHERE et.entity_type = 'chunk' AND et.entity_id = c.id
			  AND t.name = ANY($%d))`, n))
		args = append(args, f.TagsAny)
		n++
	}
	if len(f.TagsAll) > 0 {
		clauses = append(clauses, fmt.Sprintf(`(
			SELECT count(DISTINCT t.name) FROM entity_tag et JOIN tag t ON t.id = et.tag_id
			WHERE et.entity_type = 'chunk' AND et.entity_id = c.id
			  AND t.name = ANY($%d)) = cardinality($%d)`, n, n))
		args = append(args, f.TagsAll)
		n++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// VectorSearchChunks returns the k nearest chunks by cosine similarity.
func (s *Session) VectorSearchChunks(ctx context.Context, vec []float32, k int,
	f SearchFilters) ([]Hit, error) {
	where, args := chunkFilterClauses(f, 3)
	sql := fmt.Sprintf(`
		SELECT c.id, 1 - (ce.embedding <=> $1) AS score
		FROM chunk_embedding ce
		JOIN chunk c ON c.id = ce.chunk_id
		JOIN file f ON f.id = c.file_id
		WHERE TRUE%s
		ORDER BY ce.embedding <=> $1
		LIMIT $2`, where)
	return s.collectHits(ctx, EntityChunk, sql, append([]any{pgvector.NewVector(vec), k}, args...)...)
}

// FTSSearchChunks returns the k best chunks by full-text rank.
func (s *Session) FTSSearchChunks(ctx context.Context, query string, k int,
	f SearchFilters) ([]Hit, error) {
	where, args := chunkFilterClauses(f, 3)
	sql := fmt.Sprintf(`
		SELECT c.id, ts_rank_cd(c.fts, websearch_to_tsquery('simple', $1)) AS score
		FROM chunk c
		JOIN file f ON f.id = c.file_id
		WHERE c.fts @@ websearch_to_tsquery('simple', $1)%s
		ORDER BY score DESC, c.id
		LIMIT $2`, where)
	return s.collectHits(ctx, EntityChunk, sql, append([]any{query, k}, args...)...)
}

// documentFilterClauses renders the shared filter SQL for document
// queries. The language filter does not apply: documents carry no
// language.
func documentFilterClauses(f SearchFilters, firstArg int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	n := firstArg
	if f.PathPrefix != "" {
		clauses = append(clauses, fmt.Sprintf("d.path LIKE $%d || '%%'", n))
		args = append(args, f.PathPrefix)
		n++
	}
	if len(f.TagsAny) > 0 {
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM entity_tag et JOIN tag t ON t.id = et.tag_id
			WHERE et.entity_type = 'document' AND et.entity_id = d.id
			  AND t.name = ANY($%d))`, n))
		args = append(args, f.TagsAny)
		n++
	}
	if len(f.TagsAll) > 0 {
		clauses = append(clauses, fmt.Sprintf(`(
			SELECT count(DISTINCT t.name) FROM entity_tag et JOIN tag t ON t.id = et.tag_id
			WHERE et.entity_type = 'document' AND et.entity_id = d.id
			  AND t.name = ANY($%d)) = cardinality($%d)`, n, n))
		args = append(args, f.TagsAll)
		n++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// VectorSearchDocuments returns the k nearest documents by cosine
// similarity.
func (s *Session) VectorSearchDocuments(ctx context.Context, vec []float32, k int,
	f SearchFilters) ([]Hit, error) {
	where, args := documentFilterClauses(f, 3)
	sql := fmt.Sprintf(`
		SELECT d.id, 1 - (de.embedding <=> $1) AS score
		FROM document_embedding de
		JOIN document d ON d.id = de.document_id
		WHERE TRUE%s
		ORDER BY de.embedding <=> $1
		LIMIT $2`, where)
	return s.collectHits(ctx, EntityDocument, sql, append([]any{pgvector.NewVector(vec), k}, args...)...)
}

// FTSSearchDocuments returns the k best documents by full-text rank.
func (s *Session) FTSSearchDocuments(ctx context.Context, query string, k int,
	f SearchFilters) ([]Hit, error) {
	where, args := documentFilterClauses(f, 3)
	sql := fmt.Sprintf(`
		SELECT d.id, ts_rank_cd(d.fts, websearch_to_tsquery('simple', $1)) AS score
		FROM document d
		WHERE d.fts @@ websearch_to_tsquery('simple', $1)%s
		ORDER BY score DESC, d.id
		LIMIT $2`, where)
	return s.collectHits(ctx, EntityDocument, sql, append([]any{query, k}, args...)...)
}

func (s *Session) collectHits(ctx context.Context, et EntityType, sql string, args ...any) ([]Hit, error) {
	rows, err := s.Query(ctx, sql, args...)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "search query")
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		h := Hit{EntityType: et}
		if err := rows.Scan(&h.EntityID, &h.Score); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan hit")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EntityTagMatches counts, for each entity id, how many of the named
// tags are attached to it.
func (s *Session) EntityTagMatches(ctx context.Context, et EntityType, ids []int64,
	tagNames []string) (map[int64]int, error) {
	out := make(map[int64]int)
	if len(ids) == 0 || len(tagNames) == 0 {
		return out, nil
	}
	rows, err := s.Query(ctx, `
		SELECT et.entity_id, count(DISTINCT t.name)
		FROM entity_tag et JOIN tag t ON t.id = et.tag_id
		WHERE et.entity_type = $1 AND et.entity_id = ANY($2) AND t.name = ANY($3)
		GROUP BY et.entity_id`, et, ids, tagNames)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "tag match counts")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan tag match")
		}
		out[id] = n
	}
	return out, rows.Err()
}

// DocumentByID returns one document row.
func (s *Session) DocumentByID(ctx context.Context, id int64) (*Document, error) {
	d := &Document{}
	err := s.QueryRow(ctx, `
		SELECT id, doc_type, source, coalesce(path, ''), title, content, content_hash, updated_at
		FROM document WHERE id = $1`, id).Scan(
		&d.ID, &d.DocType, &d.Source, &d.Path, &d.Title, &d.Content, &d.ContentHash, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, rmerr.NotFound("document", fmt.Sprint(id))
	}
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "document by id")
	}
	return d, nil
}
