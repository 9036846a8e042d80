package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
)

func embedCfg(provider, baseURL string, dim int) config.EmbeddingsConfig {
	return config.EmbeddingsConfig{
		Provider:   provider,
		Model:      "test-model",
		BaseURL:    baseURL,
		Dimension:  dim,
		BatchSize:  100,
		MaxChars:   8192,
		TimeoutSec: 5,
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(embedCfg("mystery", "http://localhost", 3))
	require.Error(t, err)
	assert.Equal(t, rmerr.KindValidation, rmerr.KindOf(err))
}

func TestOpenAIEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sekret", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		resp := openAIResponse{}
		// Answer out of order to exercise index-based reassembly.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 0, 1}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := embedCfg("openai", srv.URL, 3)
	cfg.APIKey = "sekret"
	em, err := New(cfg)
	require.NoError(t, err)

	vectors, err := em.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 0, 1}, vectors[0])
	assert.Equal(t, []float32{2, 0, 1}, vectors[2])
}

func TestOpenAIDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse{Data: []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{{Index: 0, Embedding: []float32{1, 2}}}})
	}))
	defer srv.Close()

	em, err := New(embedCfg("openai", srv.URL, 3))
	require.NoError(t, err)

	_, err = em.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, rmerr.KindPermanentIO, rmerr.KindOf(err))
	assert.False(t, rmerr.IsRetryable(err))
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(openAIResponse{Data: []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{{Index: 0, Embedding: []float32{1, 2, 3}}}})
	}))
	defer srv.Close()

	em, err := New(embedCfg("openai", srv.URL, 3))
	require.NoError(t, err)

	vectors, err := em.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vectors[0])
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	em, err := New(embedCfg("openai", srv.URL, 3))
	require.NoError(t, err)

	_, err = em.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedPerItem(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		calls.Add(1)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		v := float32(len(req.Prompt))
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{v, v}})
	}))
	defer srv.Close()

	em, err := New(embedCfg("ollama", srv.URL, 2))
	require.NoError(t, err)

	vectors, err := em.Embed(context.Background(), []string{"x", "xyz"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{3, 3}, vectors[1])
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedEmptyInput(t *testing.T) {
	em, err := New(embedCfg("openai", "http://localhost:0", 3))
	require.NoError(t, err)
	vectors, err := em.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
