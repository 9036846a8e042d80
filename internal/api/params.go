package api

import (
	"strings"

	"github.com/robomonkey/robomonkey/internal/graph"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

// RepoParams names the repository an operation targets.
type RepoParams struct {
	Repo string `json:"repo"`
}

func (p *RepoParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	return nil
}

// SearchParams drive hybrid_search and doc_search.
type SearchParams struct {
	Repo        string   `json:"repo"`
	Query       string   `json:"query"`
	EntityTypes []string `json:"entity_types,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Filters     struct {
		PathPrefix string   `json:"path_prefix,omitempty"`
		Language   string   `json:"language,omitempty"`
		TagsAny    []string `json:"tags_any,omitempty"`
		TagsAll    []string `json:"tags_all,omitempty"`
	} `json:"filters,omitempty"`
}

func (p *SearchParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	if strings.TrimSpace(p.Query) == "" {
		return rmerr.New(rmerr.KindValidation, "query is required")
	}
	if p.TopK < 0 {
		return rmerr.New(rmerr.KindValidation, "top_k must be non-negative")
	}
	return nil
}

func (p *SearchParams) filters() store.SearchFilters {
	return store.SearchFilters{
		PathPrefix: p.Filters.PathPrefix,
		Language:   p.Filters.Language,
		TagsAny:    p.Filters.TagsAny,
		TagsAll:    p.Filters.TagsAll,
	}
}

// SymbolParams identify a symbol by fully qualified or bare name.
type SymbolParams struct {
	Repo   string `json:"repo"`
	Symbol string `json:"symbol"`
}

func (p *SymbolParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return rmerr.New(rmerr.KindValidation, "symbol is required")
	}
	return nil
}

// ContextParams drive symbol_context.
type ContextParams struct {
	Repo         string `json:"repo"`
	Symbol       string `json:"symbol"`
	Direction    string `json:"direction,omitempty"`
	Depth        int    `json:"depth,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

func (p *ContextParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return rmerr.New(rmerr.KindValidation, "symbol is required")
	}
	switch graph.Direction(p.Direction) {
	case "", graph.DirCallers, graph.DirCallees, graph.DirBoth:
	default:
		return rmerr.New(rmerr.KindValidation, "direction must be callers, callees or both")
	}
	if p.Depth < 0 || p.Depth > graph.MaxDepth {
		return rmerr.New(rmerr.KindValidation, "depth must be in [0, %d]", graph.MaxDepth)
	}
	if p.BudgetTokens < 0 {
		return rmerr.New(rmerr.KindValidation, "budget_tokens must be non-negative")
	}
	return nil
}

// TagEntityParams drive tag_entity.
type TagEntityParams struct {
	Repo       string  `json:"repo"`
	EntityType string  `json:"entity_type"`
	EntityID   int64   `json:"entity_id"`
	Tag        string  `json:"tag"`
	Source     string  `json:"source,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

func (p *TagEntityParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	switch store.EntityType(p.EntityType) {
	case store.EntityChunk, store.EntityDocument, store.EntitySymbol, store.EntityFile:
	default:
		return rmerr.New(rmerr.KindValidation, "unknown entity_type %q", p.EntityType)
	}
	if p.EntityID <= 0 {
		return rmerr.New(rmerr.KindValidation, "entity_id is required")
	}
	if strings.TrimSpace(p.Tag) == "" {
		return rmerr.New(rmerr.KindValidation, "tag is required")
	}
	switch store.TagSource(p.Source) {
	case "", store.TagSourceManual, store.TagSourceRule, store.TagSourceSemantic, store.TagSourceLLM:
	default:
		return rmerr.New(rmerr.KindValidation, "unknown source %q", p.Source)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return rmerr.New(rmerr.KindValidation, "confidence must be in [0, 1]")
	}
	return nil
}

// ReindexFileParams drive enqueue_reindex_file.
type ReindexFileParams struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
}

func (p *ReindexFileParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	if strings.TrimSpace(p.Path) == "" {
		return rmerr.New(rmerr.KindValidation, "path is required")
	}
	return nil
}

// ReindexManyParams drive enqueue_reindex_many.
type ReindexManyParams struct {
	Repo  string   `json:"repo"`
	Paths []string `json:"paths"`
}

func (p *ReindexManyParams) Validate() error {
	if strings.TrimSpace(p.Repo) == "" {
		return rmerr.New(rmerr.KindValidation, "repo is required")
	}
	if len(p.Paths) == 0 {
		return rmerr.New(rmerr.KindValidation, "paths is required")
	}
	for _, path := range p.Paths {
		if strings.TrimSpace(path) == "" {
			return rmerr.New(rmerr.KindValidation, "paths must not contain empty entries")
		}
	}
	return nil
}
