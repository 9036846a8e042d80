// Package search implements hybrid retrieval: vector and full-text
// candidates are gathered independently, normalized, fused with a
// weighted sum plus a tag boost, and returned with per-result score
// explanations.
package search

import (
	"fmt"
	"sort"

	"github.com/robomonkey/robomonkey/internal/store"
)

// Fusion weights. Vector similarity dominates, full text keeps exact
// matches afloat, and tags nudge curated content upward.
const (
	weightVector = 0.55
	weightFTS    = 0.35
	weightTags   = 0.10

	// tagBoostPerMatch is the boost contributed by each matching tag,
	// saturating at 1.0.
	tagBoostPerMatch = 0.25
)

// Candidate is one entity seen by at least one retrieval source.
// Ranks are 1-based; zero means the source did not return the entity.
type Candidate struct {
	EntityType store.EntityType
	EntityID   int64
	VecScore   float64
	FTSScore   float64
	VecRank    int
	FTSRank    int
	TagMatches int
}

// Explain breaks a fused score into its parts.
type Explain struct {
	VecNorm  float64 `json:"vec_norm"`
	FTSNorm  float64 `json:"fts_norm"`
	TagBoost float64 `json:"tag_boost"`
	VecRank  int     `json:"vec_rank,omitempty"`
	FTSRank  int     `json:"fts_rank,omitempty"`
	Why      string  `json:"why"`
}

// Scored is a candidate with its final fused score.
type Scored struct {
	Candidate
	Score   float64
	Explain Explain
}

// mergeCandidates unions per-source hit lists into candidates keyed by
// (entity type, id). Ranks are assigned per source and per entity type,
// so the first document is rank 1 in its own stream even when chunks
// precede it in the hit list.
func mergeCandidates(vecHits, ftsHits []store.Hit) []Candidate {
	type key struct {
		et store.EntityType
		id int64
	}
	byKey := make(map[key]*Candidate)
	order := make([]key, 0, len(vecHits)+len(ftsHits))

	get := func(k key) *Candidate {
		if c, ok := byKey[k]; ok {
			return c
		}
		c := &Candidate{EntityType: k.et, EntityID: k.id}
		byKey[k] = c
		order = append(order, k)
		return c
	}

	vecRank := make(map[store.EntityType]int)
	for _, h := range vecHits {
		c := get(key{h.EntityType, h.EntityID})
		vecRank[h.EntityType]++
		c.VecScore = h.Score
		c.VecRank = vecRank[h.EntityType]
	}
	ftsRank := make(map[store.EntityType]int)
	for _, h := range ftsHits {
		c := get(key{h.EntityType, h.EntityID})
		ftsRank[h.EntityType]++
		c.FTSScore = h.Score
		c.FTSRank = ftsRank[h.EntityType]
	}

	out := make([]Candidate, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// normalize min-max scales the scores of candidates present in one
// source. With fewer than two scored candidates the spread is
// meaningless, so every present candidate gets 1.0. Absent candidates
// get 0.
func normalize(cands []Candidate, score func(Candidate) float64,
	present func(Candidate) bool) []float64 {

	var (
		min, max float64
		count    int
	)
	for _, c := range cands {
		if !present(c) {
			continue
		}
		s := score(c)
		if count == 0 || s < min {
			min = s
		}
		if count == 0 || s > max {
			max = s
		}
		count++
	}

	norms := make([]float64, len(cands))
	for i, c := range cands {
		switch {
		case !present(c):
			norms[i] = 0
		case count < 2 || max == min:
			norms[i] = 1
		default:
			norms[i] = (score(c) - min) / (max - min)
		}
	}
	return norms
}

// Fuse normalizes, scores, and ranks candidates, returning at most
// topK results in deterministic order.
func Fuse(cands []Candidate, topK int) []Scored {
	scored := make([]Scored, len(cands))
	vecNorms := normalize(cands,
		func(c Candidate) float64 { return c.VecScore },
		func(c Candidate) bool { return c.VecRank > 0 })
	ftsNorms := normalize(cands,
		func(c Candidate) float64 { return c.FTSScore },
		func(c Candidate) bool { return c.FTSRank > 0 })

	for i, c := range cands {
		boost := tagBoostPerMatch * float64(c.TagMatches)
		if boost > 1 {
			boost = 1
		}
		final := weightVector*vecNorms[i] + weightFTS*ftsNorms[i] + weightTags*boost
		scored[i] = Scored{
			Candidate: c,
			Score:     final,
			Explain: Explain{
				VecNorm:  vecNorms[i],
				FTSNorm:  ftsNorms[i],
				TagBoost: boost,
				VecRank:  c.VecRank,
				FTSRank:  c.FTSRank,
				Why:      whyString(c, vecNorms[i], ftsNorms[i], boost),
			},
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := tieRank(a.VecRank), tieRank(b.VecRank); ra != rb {
			return ra < rb
		}
		if ra, rb := tieRank(a.FTSRank), tieRank(b.FTSRank); ra != rb {
			return ra < rb
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.EntityID < b.EntityID
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// tieRank maps "absent from source" to the worst possible rank.
func tieRank(r int) int {
	if r == 0 {
		return 1 << 30
	}
	return r
}

func whyString(c Candidate, vecNorm, ftsNorm, boost float64) string {
	s := ""
	if c.VecRank > 0 {
		s += fmt.Sprintf("vector #%d (%.2f)", c.VecRank, vecNorm)
	}
	if c.FTSRank > 0 {
		if s != "" {
			s += " + "
		}
		s += fmt.Sprintf("text #%d (%.2f)", c.FTSRank, ftsNorm)
	}
	if c.TagMatches > 0 {
		if s != "" {
			s += " + "
		}
		s += fmt.Sprintf("%d tag match(es) (+%.2f)", c.TagMatches, weightTags*boost)
	}
	if s == "" {
		s = "no source"
	}
	return s
}
