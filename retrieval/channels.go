// Package retrieval runs the local dual-channel match path: a vector index
// and a lexical index queried concurrently, merged, calibrated, fused and
// routed to a decision.
package retrieval

import (
	"context"
	"time"

	"fault-matcher/match"
)

// VectorIndex answers nearest-neighbour queries over the catalog.
type VectorIndex interface {
	Query(ctx context.Context, query string, k int) ([]match.Hit, error)
}

// LexicalIndex answers keyword queries over the catalog.
type LexicalIndex interface {
	Query(ctx context.Context, query string, k int) ([]match.Hit, error)
}

// Reranker scores query/text pairs into [0,1] probabilities, aligned to texts.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Embedder produces fixed-dimension, L2-normalized vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Outcome is the result of one channel call. A failed channel carries Err and
// no hits; it never aborts the request.
type Outcome struct {
	Channel match.Source
	Hits    []match.Hit
	Err     error
	Elapsed time.Duration
}

// OK reports whether the channel answered.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// HitList converts the outcome into merger input; failed channels contribute nothing.
func (o Outcome) HitList() match.HitList {
	if o.Err != nil {
		return match.HitList{Source: o.Channel}
	}
	return match.HitList{Source: o.Channel, Hits: o.Hits}
}

type queryFunc func(ctx context.Context, query string, k int) ([]match.Hit, error)

// runChannel calls one channel and records its hits, error and latency.
func runChannel(ctx context.Context, channel match.Source, fn queryFunc, query string, k int) Outcome {
	start := time.Now()
	if fn == nil {
		return Outcome{Channel: channel, Err: errChannelMissing}
	}
	hits, err := fn(ctx, query, k)
	return Outcome{Channel: channel, Hits: hits, Err: err, Elapsed: time.Since(start)}
}
