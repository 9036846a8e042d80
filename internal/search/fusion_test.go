package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/store"
)

func chunkHit(id int64, score float64) store.Hit {
	return store.Hit{EntityType: store.EntityChunk, EntityID: id, Score: score}
}

func docHit(id int64, score float64) store.Hit {
	return store.Hit{EntityType: store.EntityDocument, EntityID: id, Score: score}
}

func TestMergeCandidatesUnionsSources(t *testing.T) {
	vec := []store.Hit{chunkHit(1, 0.9), chunkHit(2, 0.8)}
	fts := []store.Hit{chunkHit(2, 3.0), chunkHit(3, 1.5)}

	cands := mergeCandidates(vec, fts)
	require.Len(t, cands, 3)

	byID := make(map[int64]Candidate)
	for _, c := range cands {
		byID[c.EntityID] = c
	}
	assert.Equal(t, 1, byID[1].VecRank)
	assert.Equal(t, 0, byID[1].FTSRank)
	assert.Equal(t, 2, byID[2].VecRank)
	assert.Equal(t, 1, byID[2].FTSRank)
	assert.Equal(t, 0, byID[3].VecRank)
	assert.Equal(t, 2, byID[3].FTSRank)
}

func TestMergeRanksPerEntityType(t *testing.T) {
	// Documents are appended after chunks in the hit slices; their ranks
	// must still start at 1 within their own stream.
	vec := []store.Hit{chunkHit(1, 0.9), chunkHit(2, 0.8), docHit(30, 0.7), docHit(31, 0.6)}
	fts := []store.Hit{chunkHit(1, 2.0), docHit(31, 1.0)}

	cands := mergeCandidates(vec, fts)
	require.Len(t, cands, 4)
	for _, c := range cands {
		switch {
		case c.EntityType == store.EntityDocument && c.EntityID == 30:
			assert.Equal(t, 1, c.VecRank)
		case c.EntityType == store.EntityDocument && c.EntityID == 31:
			assert.Equal(t, 2, c.VecRank)
			assert.Equal(t, 1, c.FTSRank)
		case c.EntityType == store.EntityChunk && c.EntityID == 2:
			assert.Equal(t, 2, c.VecRank)
		}
	}
}

func TestFuseWeights(t *testing.T) {
	cands := []Candidate{
		{EntityType: store.EntityChunk, EntityID: 1, VecScore: 0.9, VecRank: 1, FTSScore: 4.0, FTSRank: 1},
		{EntityType: store.EntityChunk, EntityID: 2, VecScore: 0.5, VecRank: 2, FTSScore: 1.0, FTSRank: 2},
		{EntityType: store.EntityChunk, EntityID: 3, VecScore: 0.1, VecRank: 3},
	}
	scored := Fuse(cands, 0)
	require.Len(t, scored, 3)

	// Best in both sources: norms are 1.0 each, no tags.
	assert.Equal(t, int64(1), scored[0].EntityID)
	assert.InDelta(t, 0.55+0.35, scored[0].Score, 1e-9)

	// Middle vector score: (0.5-0.1)/(0.9-0.1) = 0.5.
	assert.Equal(t, int64(2), scored[1].EntityID)
	assert.InDelta(t, 0.55*0.5+0.35*0, scored[1].Score, 1e-9)

	// Worst vector, absent from text.
	assert.Equal(t, int64(3), scored[2].EntityID)
	assert.InDelta(t, 0.0, scored[2].Score, 1e-9)
}

func TestFuseSingleCandidateFallback(t *testing.T) {
	// With one candidate per source, min-max has no spread: the
	// normalized score falls back to 1.0 rather than 0.
	cands := mergeCandidates(
		[]store.Hit{chunkHit(7, 0.42)},
		[]store.Hit{chunkHit(7, 2.2)},
	)
	scored := Fuse(cands, 0)
	require.Len(t, scored, 1)
	assert.InDelta(t, 1.0, scored[0].Explain.VecNorm, 1e-9)
	assert.InDelta(t, 1.0, scored[0].Explain.FTSNorm, 1e-9)
	assert.InDelta(t, 0.9, scored[0].Score, 1e-9)
}

func TestFuseEqualScoresFallback(t *testing.T) {
	cands := []Candidate{
		{EntityType: store.EntityChunk, EntityID: 1, VecScore: 0.5, VecRank: 1},
		{EntityType: store.EntityChunk, EntityID: 2, VecScore: 0.5, VecRank: 2},
	}
	scored := Fuse(cands, 0)
	assert.InDelta(t, 1.0, scored[0].Explain.VecNorm, 1e-9)
	assert.InDelta(t, 1.0, scored[1].Explain.VecNorm, 1e-9)
}

func TestFuseTagBoost(t *testing.T) {
	cands := []Candidate{
		{EntityType: store.EntityChunk, EntityID: 1, VecScore: 0.9, VecRank: 1, TagMatches: 2},
		{EntityType: store.EntityChunk, EntityID: 2, VecScore: 0.9, VecRank: 2},
	}
	scored := Fuse(cands, 0)
	require.Equal(t, int64(1), scored[0].EntityID)
	assert.InDelta(t, 0.5, scored[0].Explain.TagBoost, 1e-9)
	assert.InDelta(t, scored[1].Score+0.10*0.5, scored[0].Score, 1e-9)
}

func TestFuseTagBoostSaturates(t *testing.T) {
	cands := []Candidate{
		{EntityType: store.EntityChunk, EntityID: 1, VecScore: 1, VecRank: 1, TagMatches: 10},
	}
	scored := Fuse(cands, 0)
	assert.InDelta(t, 1.0, scored[0].Explain.TagBoost, 1e-9)
}

func TestFuseTieBreakDeterministic(t *testing.T) {
	// Two candidates with identical scores: the one seen earlier by the
	// vector source wins; beyond that, lower entity id wins.
	cands := []Candidate{
		{EntityType: store.EntityChunk, EntityID: 9, VecScore: 0.5, VecRank: 2, FTSScore: 1, FTSRank: 1},
		{EntityType: store.EntityChunk, EntityID: 4, VecScore: 0.5, VecRank: 1, FTSScore: 1, FTSRank: 2},
	}
	scored := Fuse(cands, 0)
	assert.Equal(t, int64(4), scored[0].EntityID)

	// Identical ranks: id breaks the tie.
	cands = []Candidate{
		{EntityType: store.EntityChunk, EntityID: 9, VecScore: 0.5, VecRank: 1},
		{EntityType: store.EntityDocument, EntityID: 9, VecScore: 0.5, VecRank: 1},
	}
	scored = Fuse(cands, 0)
	assert.Equal(t, store.EntityChunk, scored[0].EntityType)
}

func TestFuseTopK(t *testing.T) {
	var cands []Candidate
	for i := int64(1); i <= 20; i++ {
		cands = append(cands, Candidate{
			EntityType: store.EntityChunk, EntityID: i,
			VecScore: 1.0 / float64(i), VecRank: int(i),
		})
	}
	scored := Fuse(cands, 5)
	require.Len(t, scored, 5)
	assert.Equal(t, int64(1), scored[0].EntityID)
}

func TestWhyStringNamesSources(t *testing.T) {
	c := Candidate{VecRank: 3, FTSRank: 1, TagMatches: 2}
	why := whyString(c, 0.82, 0.91, 0.5)
	assert.Contains(t, why, "vector #3")
	assert.Contains(t, why, "text #1")
	assert.Contains(t, why, "2 tag match(es)")
}
