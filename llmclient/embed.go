package llmclient

import (
	"context"
	"fmt"
	"math"
)

type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Dim returns the configured embedding dimension.
func (c *Client) Dim() int {
	return c.hasher.Dim()
}

// Embed returns one L2-normalized vector per text. Without an embedding host
// the deterministic hash embedder is used instead.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cfg.EmbeddingHost == "" {
		return c.hasher.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var resp embeddingResponse
	req := embeddingRequest{Model: c.cfg.EmbeddingModel, Input: missing}
	if err := c.postJSON(ctx, endpoint(c.cfg.EmbeddingHost, "/v1/embeddings"), req, &resp); err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(missing), err)
	}
	if len(resp.Data) != len(missing) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(missing))
	}

	for pos, item := range resp.Data {
		idx := pos
		if item.Index >= 0 && item.Index < len(missing) {
			idx = item.Index
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("embedding %d was empty", idx)
		}
		vec := normalizeL2(item.Embedding)
		out[missingIdx[idx]] = vec
		c.cache.Add(missing[idx], vec)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func normalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	scale := float32(1.0 / math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * scale
	}
	return out
}
