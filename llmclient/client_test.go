package llmclient

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fault-matcher/config"
	apperrors "fault-matcher/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		EmbeddingDim:         64,
		EmbeddingCacheSize:   16,
		RerankBatchSize:      2,
		RerankConcurrency:    2,
		RerankScoresAreLogit: false,
		LLMRequestTimeout:    5 * time.Second,
		MaxRetries:           3,
		RetryDelaySeconds:    time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	c, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedFallsBackToHashEmbedder(t *testing.T) {
	c := newTestClient(t, testConfig())

	vecs, err := c.Embed(context.Background(), []string{"刹车异响", "刹车异响", "空调不制冷"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Len(t, vecs[0], 64)
	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-5)
	assert.Equal(t, vecs[0], vecs[1], "deterministic")
	assert.NotEqual(t, vecs[0], vecs[2])
	assert.Equal(t, 64, c.Dim())
}

func TestEmbedUsesServerAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge", req.Model)

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Index: i, Embedding: []float32{3, 4}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EmbeddingHost = srv.URL
	cfg.EmbeddingModel = "bge"
	c := newTestClient(t, cfg)

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vecs[0], 1e-6)

	vec, err := c.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-6)
	assert.Equal(t, int32(1), calls.Load(), "second lookup served from cache")
}

func TestEmbedRetriesWhileModelLoads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EmbeddingHost = srv.URL
	c := newTestClient(t, cfg)

	vec, err := c.EmbedQuery(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EmbeddingHost = srv.URL
	c := newTestClient(t, cfg)

	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRerankNotConfigured(t *testing.T) {
	c := newTestClient(t, testConfig())

	_, err := c.Rerank(context.Background(), "q", []string{"a"})
	assert.True(t, apperrors.IsNotConfigured(err))
}

func TestRerankBatchesAndAligns(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/rerank", r.URL.Path)

		var req rerankRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Documents), 2)

		type result struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}
		var out struct {
			Results []result `json:"results"`
		}
		// answer in reverse order; scores encode the document text length
		for i := len(req.Documents) - 1; i >= 0; i-- {
			out.Results = append(out.Results, result{Index: i, RelevanceScore: float64(len(req.Documents[i])) / 10})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RerankHost = srv.URL
	c := newTestClient(t, cfg)

	scores, err := c.Rerank(context.Background(), "q", []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5}, scores, 1e-12)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRerankLogits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":0,"relevance_score":0},{"index":1,"relevance_score":50}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RerankHost = srv.URL
	cfg.RerankBatchSize = 0
	cfg.RerankScoresAreLogit = true
	c := newTestClient(t, cfg)

	scores, err := c.Rerank(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scores[0], 1e-12)
	assert.InDelta(t, 1.0, scores[1], 1e-9)
}

func TestRerankRejectsIncompleteResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing document", `{"results":[{"index":0,"relevance_score":0.9}]}`},
		{"repeated index", `{"results":[{"index":0,"relevance_score":0.9},{"index":0,"relevance_score":0.1}]}`},
		{"index out of range", `{"results":[{"index":0,"relevance_score":0.9},{"index":5,"relevance_score":0.1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			cfg := testConfig()
			cfg.RerankHost = srv.URL
			cfg.RerankBatchSize = 0
			c := newTestClient(t, cfg)

			scores, err := c.Rerank(context.Background(), "q", []string{"a", "b"})
			assert.Error(t, err)
			assert.Nil(t, scores)
		})
	}
}

func TestRerankEmptyInput(t *testing.T) {
	cfg := testConfig()
	cfg.RerankHost = "http://unused"
	c := newTestClient(t, cfg)

	scores, err := c.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestHashEmbedderTokenization(t *testing.T) {
	h := NewHashEmbedder(0)
	assert.Equal(t, defaultEmbeddingDim, h.Dim())

	vecs, err := h.Embed(context.Background(), []string{"ABS warning", "abs WARNING", ""})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], vecs[1], "ASCII tokens are case folded")
	assert.Zero(t, norm(vecs[2]))
}
