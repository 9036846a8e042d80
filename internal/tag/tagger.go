package tag

import (
	"context"
	"log/slog"

	"github.com/robomonkey/robomonkey/internal/embed"
	"github.com/robomonkey/robomonkey/internal/store"
)

// Store is the persistence surface the tagger needs.
type Store interface {
	EnsureTag(ctx context.Context, name, description string) (int64, error)
	ReplaceTagRules(ctx context.Context, tagID int64, rules []store.TagRule) error
	ListTagRules(ctx context.Context) ([]store.TagRule, error)
	ListFileHeaders(ctx context.Context) ([]store.FileHeader, error)
	ListSymbols(ctx context.Context) ([]store.Symbol, error)
	AttachTag(ctx context.Context, entityType store.EntityType, entityID, tagID int64,
		source store.TagSource, confidence float32) error
	ChunksSimilarTo(ctx context.Context, vec []float32, threshold float32, limit int) ([]store.SimilarChunk, error)
}

// semanticProbeLimit caps how many chunks one tag can claim per pass.
const semanticProbeLimit = 200

// Tagger syncs declared rules into the store and applies them.
type Tagger struct {
	store Store
	log   *slog.Logger
}

// NewTagger builds a tagger over a repo store.
func NewTagger(st Store, log *slog.Logger) *Tagger {
	return &Tagger{store: st, log: log}
}

// SyncRules upserts the tags and rules declared in a rules file.
func (t *Tagger) SyncRules(ctx context.Context, rf *RuleFile) error {
	for _, spec := range rf.Tags {
		tagID, err := t.store.EnsureTag(ctx, spec.Name, spec.Description)
		if err != nil {
			return err
		}
		rules := make([]store.TagRule, 0, len(spec.Rules))
		for _, r := range spec.Rules {
			rules = append(rules, store.TagRule{
				TagID:     tagID,
				MatchType: r.Match,
				Pattern:   r.Pattern,
				Weight:    r.Weight,
			})
		}
		if err := t.store.ReplaceTagRules(ctx, tagID, rules); err != nil {
			return err
		}
	}
	t.log.Info("tag rules synced", slog.Int("tags", len(rf.Tags)))
	return nil
}

// ApplyStats counts one rule application pass.
type ApplyStats struct {
	FilesTagged    int
	SymbolsTagged  int
	ChunksTagged   int
	RulesEvaluated int
}

// ApplyRules evaluates every stored rule against every file and symbol
// and attaches the matching tags.
func (t *Tagger) ApplyRules(ctx context.Context) (*ApplyStats, error) {
	rules, err := t.store.ListTagRules(ctx)
	if err != nil {
		return nil, err
	}
	stats := &ApplyStats{RulesEvaluated: len(rules)}
	if len(rules) == 0 {
		return stats, nil
	}

	compiled := make([]struct {
		rule  compiledRule
		tagID int64
	}, 0, len(rules))
	for _, r := range rules {
		cr, err := compileRule(r.MatchType, r.Pattern, r.Weight)
		if err != nil {
			t.log.Warn("skipping bad tag rule",
				slog.Int64("rule_id", r.ID), slog.String("error", err.Error()))
			continue
		}
		compiled = append(compiled, struct {
			rule  compiledRule
			tagID int64
		}{cr, r.TagID})
	}

	headers, err := t.store.ListFileHeaders(ctx)
	if err != nil {
		return nil, err
	}
	for _, fh := range headers {
		for _, c := range compiled {
			if !c.rule.MatchesFile(fh.RelPath, fh.Header) {
				continue
			}
			if err := t.store.AttachTag(ctx, store.EntityFile, fh.FileID, c.tagID,
				store.TagSourceRule, confidence(c.rule.weight)); err != nil {
				return nil, err
			}
			stats.FilesTagged++
		}
	}

	symbols, err := t.store.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	for _, sym := range symbols {
		for _, c := range compiled {
			if !c.rule.MatchesSymbol(sym.Name, sym.FQN) {
				continue
			}
			if err := t.store.AttachTag(ctx, store.EntitySymbol, sym.ID, c.tagID,
				store.TagSourceRule, confidence(c.rule.weight)); err != nil {
				return nil, err
			}
			stats.SymbolsTagged++
		}
	}

	t.log.Info("tag rules applied",
		slog.Int("files", stats.FilesTagged),
		slog.Int("symbols", stats.SymbolsTagged))
	return stats, nil
}

// ApplySemantic embeds each tag's description and attaches the tag to
// chunks whose embeddings clear the similarity threshold. Tags without
// descriptions are skipped.
func (t *Tagger) ApplySemantic(ctx context.Context, em embed.Embedder, rf *RuleFile) (*ApplyStats, error) {
	stats := &ApplyStats{}
	for _, spec := range rf.Tags {
		if spec.Description == "" {
			continue
		}
		tagID, err := t.store.EnsureTag(ctx, spec.Name, spec.Description)
		if err != nil {
			return nil, err
		}
		vectors, err := em.Embed(ctx, []string{spec.Description})
		if err != nil {
			return nil, err
		}
		hits, err := t.store.ChunksSimilarTo(ctx, vectors[0], SemanticThreshold, semanticProbeLimit)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if err := t.store.AttachTag(ctx, store.EntityChunk, h.ChunkID, tagID,
				store.TagSourceSemantic, h.Similarity); err != nil {
				return nil, err
			}
			stats.ChunksTagged++
		}
	}
	t.log.Info("semantic tags applied", slog.Int("chunks", stats.ChunksTagged))
	return stats, nil
}
