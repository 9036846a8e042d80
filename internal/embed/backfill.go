package embed

import (
	"context"
	"log/slog"

	"github.com/robomonkey/robomonkey/internal/chunk"
	"github.com/robomonkey/robomonkey/internal/store"
)

// BackfillStore is the persistence surface the backfiller needs.
type BackfillStore interface {
	MissingChunkEmbeddings(ctx context.Context, limit int) ([]store.Chunk, error)
	MissingDocumentEmbeddings(ctx context.Context, limit int) ([]store.Document, error)
	StoreChunkEmbeddings(ctx context.Context, model string, ids []int64, vectors [][]float32) error
	StoreDocumentEmbeddings(ctx context.Context, model string, ids []int64, vectors [][]float32) error
}

// Backfiller embeds every chunk and document that has no embedding row
// yet, in batches, deduplicating identical content within a batch.
type Backfiller struct {
	store     BackfillStore
	embedder  Embedder
	batchSize int
	maxChars  int
	log       *slog.Logger
}

// BackfillStats counts one backfill run.
type BackfillStats struct {
	ChunksEmbedded    int
	DocumentsEmbedded int
	ChunksSkipped     int
	DocumentsSkipped  int
	Batches           int
	DedupeHits        int
}

// NewBackfiller builds a backfiller. batchSize and maxChars must be
// positive; callers take them from configuration defaults.
func NewBackfiller(st BackfillStore, em Embedder, batchSize, maxChars int, log *slog.Logger) *Backfiller {
	return &Backfiller{store: st, embedder: em, batchSize: batchSize, maxChars: maxChars, log: log}
}

// Run embeds all missing chunks, then all missing documents. A provider
// failure on one batch leaves those rows without embeddings and the run
// moves on; only cancellation and store failures stop it.
func (b *Backfiller) Run(ctx context.Context) (*BackfillStats, error) {
	stats := &BackfillStats{}

	// Failed ids are remembered so the missing-embedding query does not
	// hand the same rows back within this run.
	skipped := make(map[int64]bool)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fetched, err := b.store.MissingChunkEmbeddings(ctx, b.batchSize+len(skipped))
		if err != nil {
			return stats, err
		}
		var chunks []store.Chunk
		for _, c := range fetched {
			if skipped[c.ID] {
				continue
			}
			chunks = append(chunks, c)
			if len(chunks) == b.batchSize {
				break
			}
		}
		if len(chunks) == 0 {
			break
		}
		ids := make([]int64, len(chunks))
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
			texts[i] = b.clip(c.Content)
		}
		vectors, err := b.embedBatch(ctx, texts, stats)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.log.Warn("chunk batch embedding failed, leaving rows unembedded",
				slog.Int("chunks", len(chunks)),
				slog.String("error", err.Error()))
			for _, id := range ids {
				skipped[id] = true
			}
			stats.ChunksSkipped += len(chunks)
			continue
		}
		if err := b.store.StoreChunkEmbeddings(ctx, b.embedder.Model(), ids, vectors); err != nil {
			return stats, err
		}
		stats.ChunksEmbedded += len(chunks)
		stats.Batches++
		if len(fetched) < b.batchSize+len(skipped) {
			break
		}
	}

	skippedDocs := make(map[int64]bool)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fetched, err := b.store.MissingDocumentEmbeddings(ctx, b.batchSize+len(skippedDocs))
		if err != nil {
			return stats, err
		}
		var docs []store.Document
		for _, d := range fetched {
			if skippedDocs[d.ID] {
				continue
			}
			docs = append(docs, d)
			if len(docs) == b.batchSize {
				break
			}
		}
		if len(docs) == 0 {
			break
		}
		ids := make([]int64, len(docs))
		texts := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
			texts[i] = b.clip(d.Title + "\n" + d.Content)
		}
		vectors, err := b.embedBatch(ctx, texts, stats)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.log.Warn("document batch embedding failed, leaving rows unembedded",
				slog.Int("documents", len(docs)),
				slog.String("error", err.Error()))
			for _, id := range ids {
				skippedDocs[id] = true
			}
			stats.DocumentsSkipped += len(docs)
			continue
		}
		if err := b.store.StoreDocumentEmbeddings(ctx, b.embedder.Model(), ids, vectors); err != nil {
			return stats, err
		}
		stats.DocumentsEmbedded += len(docs)
		stats.Batches++
		if len(fetched) < b.batchSize+len(skippedDocs) {
			break
		}
	}

	b.log.Info("embedding backfill complete",
		slog.Int("chunks", stats.ChunksEmbedded),
		slog.Int("documents", stats.DocumentsEmbedded),
		slog.Int("skipped", stats.ChunksSkipped+stats.DocumentsSkipped),
		slog.Int("batches", stats.Batches),
		slog.Int("dedupe_hits", stats.DedupeHits))
	return stats, nil
}

// embedBatch embeds texts, calling the provider once per distinct
// content hash and fanning the vector out to duplicates.
func (b *Backfiller) embedBatch(ctx context.Context, texts []string, stats *BackfillStats) ([][]float32, error) {
	type slot struct {
		first int
		rest  []int
	}
	order := make([]string, 0, len(texts))
	slots := make(map[string]*slot, len(texts))
	for i, t := range texts {
		h := chunk.HashContent(t)
		if s, ok := slots[h]; ok {
			s.rest = append(s.rest, i)
			stats.DedupeHits++
			continue
		}
		slots[h] = &slot{first: i}
		order = append(order, h)
	}

	distinct := make([]string, len(order))
	for i, h := range order {
		distinct[i] = texts[slots[h].first]
	}
	embedded, err := b.embedder.Embed(ctx, distinct)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, h := range order {
		s := slots[h]
		out[s.first] = embedded[i]
		for _, j := range s.rest {
			out[j] = embedded[i]
		}
	}
	return out, nil
}

func (b *Backfiller) clip(s string) string {
	if len(s) <= b.maxChars {
		return s
	}
	return s[:b.maxChars]
}
