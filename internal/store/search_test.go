package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkFilterClausesEmpty(t *testing.T) {
	where, args := chunkFilterClauses(SearchFilters{}, 3)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestChunkFilterClausesNumbering(t *testing.T) {
	f := SearchFilters{
		PathPrefix: "internal/",
		Language:   "go",
		TagsAny:    []string{"auth"},
		TagsAll:    []string{"database", "core"},
	}
	where, args := chunkFilterClauses(f, 3)

	assert.Contains(t, where, "f.relative_path LIKE $3")
	assert.Contains(t, where, "f.language = $4")
	assert.Contains(t, where, "ANY($5)")
	assert.Contains(t, where, "cardinality($6)")
	assert.Equal(t, []any{"internal/", "go", []string{"auth"}, []string{"database", "core"}}, args)
}

func TestDocumentFilterClausesApplyTags(t *testing.T) {
	f := SearchFilters{
		PathPrefix: "docs/",
		TagsAny:    []string{"architecture"},
		TagsAll:    []string{"curated"},
	}
	where, args := documentFilterClauses(f, 3)

	assert.Contains(t, where, "d.path LIKE $3")
	assert.Contains(t, where, "et.entity_type = 'document'")
	assert.Contains(t, where, "ANY($4)")
	assert.Contains(t, where, "cardinality($5)")
	assert.Equal(t, []any{"docs/", []string{"architecture"}, []string{"curated"}}, args)
}

func TestDocumentFilterClausesIgnoreLanguage(t *testing.T) {
	where, args := documentFilterClauses(SearchFilters{Language: "go"}, 3)
	assert.Empty(t, where)
	assert.Empty(t, args)
}
