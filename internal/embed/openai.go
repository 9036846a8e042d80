package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// openAIEmbedder speaks the OpenAI embeddings API, which vLLM also
// serves. One request embeds a whole batch.
type openAIEmbedder struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
}

func newOpenAI(cfg config.EmbeddingsConfig) *openAIEmbedder {
	return &openAIEmbedder{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

func (e *openAIEmbedder) Dimension() int { return e.dimension }
func (e *openAIEmbedder) Model() string  { return e.model }

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := withRetry(ctx, func() error {
		body, err := json.Marshal(openAIRequest{Model: e.model, Input: texts})
		if err != nil {
			return rmerr.Wrap(rmerr.KindInternal, err, "marshal embed request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return rmerr.Wrap(rmerr.KindInternal, err, "build embed request")
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "embed request")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return rmerr.Wrap(rmerr.KindTransientIO, err, "read embed response")
		}
		if resp.StatusCode != http.StatusOK {
			kind := rmerr.KindPermanentIO
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				kind = rmerr.KindTransientIO
			}
			return rmerr.New(kind, "embeddings API returned %d: %s",
				resp.StatusCode, truncate(string(data), 200))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return rmerr.Wrap(rmerr.KindPermanentIO, err, "decode embed response")
		}
		if parsed.Error != nil {
			return rmerr.New(rmerr.KindPermanentIO, "embeddings API error: %s", parsed.Error.Message)
		}
		if len(parsed.Data) != len(texts) {
			return rmerr.New(rmerr.KindPermanentIO,
				"embeddings API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
		}

		vectors = make([][]float32, len(texts))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(texts) {
				return rmerr.New(rmerr.KindPermanentIO, "embedding index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		return checkDimension(vectors, e.dimension)
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
