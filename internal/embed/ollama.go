package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// ollamaEmbedder speaks the native Ollama embeddings API, which takes
// one prompt per request.
type ollamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

func newOllama(cfg config.EmbeddingsConfig) *ollamaEmbedder {
	return &ollamaEmbedder{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

func (e *ollamaEmbedder) Dimension() int { return e.dimension }
func (e *ollamaEmbedder) Model() string  { return e.model }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, checkDimension(vectors, e.dimension)
}

func (e *ollamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := withRetry(ctx, func() error {
		body, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
		if err != nil {
			return rmerr.Wrap(rmerr.KindInternal, err, "marshal embed request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return rmerr.Wrap(rmerr.KindInternal, err, "build embed request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "embed request")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "read embed response")
		}
		if resp.StatusCode != http.StatusOK {
			kind := rmerr.KindPermanentIO
			if resp.StatusCode >= 500 {
				kind = rmerr.KindTransientIO
			}
			return rmerr.New(kind, "ollama returned %d: %s", resp.StatusCode, truncate(string(data), 200))
		}

		var parsed ollamaResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return rmerr.Wrap(rmerr.KindPermanentIO, err, "decode embed response")
		}
		if parsed.Error != "" {
			return rmerr.New(rmerr.KindPermanentIO, "ollama error: %s", parsed.Error)
		}
		vector = parsed.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}
