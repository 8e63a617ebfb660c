package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fault-matcher/config"

	lru "github.com/hashicorp/golang-lru"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const maxBackoff = 10 * time.Second

// Client talks to the embedding and re-ranking model servers.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
	cache      *lru.Cache
	hasher     *HashEmbedder
	workers    *ants.Pool
}

func New(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	cacheSize := cfg.EmbeddingCacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	concurrency := cfg.RerankConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workers, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("create rerank worker pool: %w", err)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.LLMRequestTimeout},
		logger:     logger,
		cache:      cache,
		hasher:     NewHashEmbedder(cfg.EmbeddingDim),
		workers:    workers,
	}, nil
}

// Close releases the rerank worker pool.
func (c *Client) Close() {
	c.workers.Release()
}

// postJSON sends body to url and decodes a 200 response into out, retrying
// transport errors and 503s (model still loading) with backoff.
func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			// Do not retry on context cancellation/deadline
			if ctx.Err() != nil {
				break
			}
			c.backoffSleep(ctx, attempt)
			continue
		}

		if r.StatusCode == http.StatusServiceUnavailable {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			lastErr = fmt.Errorf("server status %s", r.Status)
			c.logger.Warn("Model server unavailable, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt+1))
			c.backoffSleep(ctx, attempt)
			continue
		}

		resp = r
		break
	}
	if resp == nil {
		return fmt.Errorf("no response from %s: %w", url, lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server status %s: %s", resp.Status, strings.TrimSpace(string(bodyBytes)))
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) backoffSleep(ctx context.Context, attempt int) {
	// Exponential backoff with jitter and cap
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(float64(d) * 0.1)
	d = d - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter+1))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func endpoint(host, path string) string {
	return strings.TrimRight(host, "/") + path
}
