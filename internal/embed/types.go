// Package embed produces vector embeddings for chunks and documents
// through pluggable HTTP providers, and backfills missing embedding
// rows in batches.
package embed

import (
	"context"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector width this embedder produces.
	Dimension() int
	// Model identifies the embedding model, stored alongside vectors.
	Model() string
}

// New builds the embedder named by the configuration.
func New(cfg config.EmbeddingsConfig) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return newOllama(cfg), nil
	case "openai", "vllm":
		// vLLM serves the OpenAI embeddings API.
		return newOpenAI(cfg), nil
	default:
		return nil, rmerr.New(rmerr.KindValidation, "unknown embeddings provider %q", cfg.Provider)
	}
}

// checkDimension validates provider output width. A mismatch means the
// model and the schema disagree, which retrying cannot fix.
func checkDimension(vectors [][]float32, want int) error {
	for _, v := range vectors {
		if len(v) != want {
			return rmerr.New(rmerr.KindPermanentIO,
				"embedding dimension mismatch: model returned %d, schema expects %d", len(v), want)
		}
	}
	return nil
}
