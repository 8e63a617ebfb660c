package retrieval

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"fault-matcher/catalog"
	"fault-matcher/match"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	collectionName = "fault-records"
	embedBatchSize = 64
)

var errChannelMissing = errors.New("retrieval channel not configured")

// ChromemIndex is an in-process vector index over the catalog.
type ChromemIndex struct {
	collection *chromem.Collection
	embedder   Embedder
	records    map[string]catalog.Record
	logger     *zap.Logger
}

// NewChromemIndex embeds every record and loads it into a chromem collection.
func NewChromemIndex(ctx context.Context, records []catalog.Record, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(collectionName, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}

	idx := &ChromemIndex{
		collection: collection,
		embedder:   embedder,
		records:    make(map[string]catalog.Record, len(records)),
		logger:     logger,
	}

	for start := 0; start < len(records); start += embedBatchSize {
		end := min(start+embedBatchSize, len(records))
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.SearchableText()
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed catalog batch %d-%d: %w", start, end, err)
		}

		docs := make([]chromem.Document, 0, len(batch))
		for i, rec := range batch {
			if _, dup := idx.records[rec.ID]; dup {
				continue
			}
			idx.records[rec.ID] = rec
			docs = append(docs, chromem.Document{
				ID:        rec.ID,
				Metadata:  map[string]string{"system": rec.System, "part": rec.Part},
				Embedding: vectors[i],
				Content:   rec.Text,
			})
		}
		if len(docs) == 0 {
			continue
		}
		if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("failed to add documents to vector collection: %w", err)
		}
	}

	logger.Info("Vector index built", zap.Int("documents", collection.Count()))
	return idx, nil
}

func embeddingFunc(embedder Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, fmt.Errorf("embedder returned no vector")
		}
		return vectors[0], nil
	}
}

// Query returns up to k records by cosine similarity to query.
func (c *ChromemIndex) Query(ctx context.Context, query string, k int) ([]match.Hit, error) {
	n := min(k, c.collection.Count())
	if n <= 0 || query == "" {
		return nil, nil
	}

	vec, err := embeddingFunc(c.embedder)(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := c.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	hits := make([]match.Hit, 0, len(results))
	for _, res := range results {
		rec, ok := c.records[res.ID]
		if !ok {
			continue
		}
		hits = append(hits, match.Hit{Record: rec, Vector: match.Float(float64(res.Similarity))})
	}
	return hits, nil
}
