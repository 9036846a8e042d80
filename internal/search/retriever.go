package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/embed"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

// queryCacheSize bounds the per-retriever result cache.
const queryCacheSize = 256

// Store is the search surface of the per-repo store.
type Store interface {
	VectorSearchChunks(ctx context.Context, vec []float32, k int, f store.SearchFilters) ([]store.Hit, error)
	FTSSearchChunks(ctx context.Context, query string, k int, f store.SearchFilters) ([]store.Hit, error)
	VectorSearchDocuments(ctx context.Context, vec []float32, k int, f store.SearchFilters) ([]store.Hit, error)
	FTSSearchDocuments(ctx context.Context, query string, k int, f store.SearchFilters) ([]store.Hit, error)
	EntityTagMatches(ctx context.Context, et store.EntityType, ids []int64, tagNames []string) (map[int64]int, error)
	ChunkByID(ctx context.Context, id int64) (*store.ChunkMeta, error)
	DocumentByID(ctx context.Context, id int64) (*store.Document, error)
}

// Request is one hybrid search.
type Request struct {
	Query string
	// EntityTypes limits results to "chunk" and/or "document". Empty
	// means both.
	EntityTypes []string
	Filters     store.SearchFilters
	// TopK overrides the configured final result count when positive.
	TopK int
}

// Result is one fused search hit resolved to its content.
type Result struct {
	EntityType store.EntityType `json:"entity_type"`
	EntityID   int64            `json:"entity_id"`
	Path       string           `json:"path,omitempty"`
	Title      string           `json:"title,omitempty"`
	StartLine  int              `json:"start_line,omitempty"`
	EndLine    int              `json:"end_line,omitempty"`
	Snippet    string           `json:"snippet"`
	Score      float64          `json:"score"`
	Explain    Explain          `json:"explain"`
}

// Response carries results plus query-level diagnostics.
type Response struct {
	Results []Result `json:"results"`
	// Degraded is set when vector search was unavailable and results
	// come from full text alone.
	Degraded bool `json:"degraded,omitempty"`
}

// Retriever runs hybrid searches against one repository.
type Retriever struct {
	store    Store
	embedder embed.Embedder
	cfg      config.SearchConfig
	cache    *lru.Cache[string, *Response]
	log      *slog.Logger
}

// NewRetriever builds a retriever. embedder may be nil, degrading every
// query to full-text only.
func NewRetriever(st Store, em embed.Embedder, cfg config.SearchConfig, log *slog.Logger) *Retriever {
	cache, _ := lru.New[string, *Response](queryCacheSize)
	return &Retriever{store: st, embedder: em, cfg: cfg, cache: cache, log: log}
}

// InvalidateCache drops cached results, called after index or embed
// jobs change the underlying data.
func (r *Retriever) InvalidateCache() {
	r.cache.Purge()
}

// Search runs one hybrid query.
func (r *Retriever) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, rmerr.New(rmerr.KindValidation, "empty query")
	}

	key := cacheKey(req)
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	wantChunks, wantDocs := wantedTypes(req.EntityTypes)
	if !wantChunks && !wantDocs {
		return nil, rmerr.New(rmerr.KindValidation, "no valid entity types in %v", req.EntityTypes)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.FinalTopK
	}

	var (
		vecHits  []store.Hit
		degraded bool
	)
	queryVec, err := r.embedQuery(ctx, req.Query)
	if err != nil {
		r.log.Warn("query embedding failed, degrading to full-text",
			slog.String("error", err.Error()))
	}
	if queryVec == nil {
		degraded = true
	} else {
		if wantChunks {
			hits, err := r.store.VectorSearchChunks(ctx, queryVec, r.cfg.VectorTopK, req.Filters)
			if err != nil {
				return nil, err
			}
			vecHits = append(vecHits, hits...)
		}
		if wantDocs {
			hits, err := r.store.VectorSearchDocuments(ctx, queryVec, r.cfg.VectorTopK, req.Filters)
			if err != nil {
				return nil, err
			}
			vecHits = append(vecHits, hits...)
		}
	}

	var ftsHits []store.Hit
	if wantChunks {
		hits, err := r.store.FTSSearchChunks(ctx, req.Query, r.cfg.FTSTopK, req.Filters)
		if err != nil {
			return nil, err
		}
		ftsHits = append(ftsHits, hits...)
	}
	if wantDocs {
		hits, err := r.store.FTSSearchDocuments(ctx, req.Query, r.cfg.FTSTopK, req.Filters)
		if err != nil {
			return nil, err
		}
		ftsHits = append(ftsHits, hits...)
	}

	cands := mergeCandidates(vecHits, ftsHits)
	if err := r.countTagMatches(ctx, cands, req.Filters); err != nil {
		return nil, err
	}

	scored := Fuse(cands, topK)
	resp, err := r.resolve(ctx, scored)
	if err != nil {
		return nil, err
	}
	resp.Degraded = degraded

	r.cache.Add(key, resp)
	return resp, nil
}

// embedQuery returns nil without error when no embedder is configured.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.embedder == nil {
		return nil, nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// countTagMatches fills TagMatches on candidates from the request's
// tag filters.
func (r *Retriever) countTagMatches(ctx context.Context, cands []Candidate,
	f store.SearchFilters) error {

	tagNames := append(append([]string{}, f.TagsAny...), f.TagsAll...)
	if len(tagNames) == 0 {
		return nil
	}

	idsByType := make(map[store.EntityType][]int64)
	for _, c := range cands {
		idsByType[c.EntityType] = append(idsByType[c.EntityType], c.EntityID)
	}
	for et, ids := range idsByType {
		counts, err := r.store.EntityTagMatches(ctx, et, ids, tagNames)
		if err != nil {
			return err
		}
		for i := range cands {
			if cands[i].EntityType == et {
				cands[i].TagMatches = counts[cands[i].EntityID]
			}
		}
	}
	return nil
}

// resolve loads content for scored hits, dropping hits whose entity
// vanished between ranking and load.
func (r *Retriever) resolve(ctx context.Context, scored []Scored) (*Response, error) {
	resp := &Response{}
	for _, s := range scored {
		var res Result
		switch s.EntityType {
		case store.EntityChunk:
			meta, err := r.store.ChunkByID(ctx, s.EntityID)
			if err != nil {
				if rmerr.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			res = Result{
				EntityType: store.EntityChunk,
				EntityID:   s.EntityID,
				Path:       meta.RelPath,
				StartLine:  meta.StartLine,
				EndLine:    meta.EndLine,
				Snippet:    meta.Content,
			}
		case store.EntityDocument:
			doc, err := r.store.DocumentByID(ctx, s.EntityID)
			if err != nil {
				if rmerr.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			res = Result{
				EntityType: store.EntityDocument,
				EntityID:   s.EntityID,
				Path:       doc.Path,
				Title:      doc.Title,
				Snippet:    doc.Content,
			}
		default:
			continue
		}
		res.Score = s.Score
		res.Explain = s.Explain
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

func wantedTypes(types []string) (chunks, docs bool) {
	if len(types) == 0 {
		return true, true
	}
	for _, t := range types {
		switch strings.ToLower(t) {
		case "chunk", "chunks", "code":
			chunks = true
		case "document", "documents", "doc", "docs":
			docs = true
		}
	}
	return
}

func cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%s|%s|%v|%v|%d",
		req.Query, req.EntityTypes, req.Filters.PathPrefix, req.Filters.Language,
		req.Filters.TagsAny, req.Filters.TagsAll, req.TopK)
	return hex.EncodeToString(h.Sum(nil)[:16])
}
