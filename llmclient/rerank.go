package llmclient

import (
	"context"
	"fmt"
	"sync"

	apperrors "fault-matcher/errors"
	"fault-matcher/match"
)

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores each text against query with the cross-encoder server and
// returns probabilities in [0,1] aligned with texts.
func (c *Client) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if c.cfg.RerankHost == "" {
		return nil, apperrors.WrapError(apperrors.ErrNotConfigured, "rerank host")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.RerankBatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	scores := make([]float64, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		wg.Add(1)
		task := func() {
			defer wg.Done()
			err := c.rerankBatch(ctx, query, texts[start:end], scores[start:end])
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
		if err := c.workers.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("submit rerank batch: %w", err)
			}
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return scores, nil
}

func (c *Client) rerankBatch(ctx context.Context, query string, texts []string, out []float64) error {
	req := rerankRequest{
		Model:     c.cfg.RerankModel,
		Query:     query,
		Documents: texts,
		TopN:      len(texts),
	}
	var resp rerankResponse
	if err := c.postJSON(ctx, endpoint(c.cfg.RerankHost, "/v1/rerank"), req, &resp); err != nil {
		return fmt.Errorf("rerank batch of %d: %w", len(texts), err)
	}
	if len(resp.Results) != len(texts) {
		return fmt.Errorf("rerank response has %d scores for %d documents", len(resp.Results), len(texts))
	}
	seen := make([]bool, len(out))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(out) {
			return fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		if seen[r.Index] {
			return fmt.Errorf("rerank result index %d repeated", r.Index)
		}
		seen[r.Index] = true
		score := r.RelevanceScore
		if c.cfg.RerankScoresAreLogit {
			score = match.Sigmoid(score)
		}
		out[r.Index] = match.Clamp01(score)
	}
	return nil
}
