package retrieval

import (
	"context"
	"fmt"

	"fault-matcher/catalog"
	"fault-matcher/database"
	"fault-matcher/match"

	"go.uber.org/zap"
)

// PostgresVectorIndex queries the pgvector column of the fault_records table.
type PostgresVectorIndex struct {
	store    *database.PostgresStore
	embedder Embedder
}

func NewPostgresVectorIndex(store *database.PostgresStore, embedder Embedder) *PostgresVectorIndex {
	return &PostgresVectorIndex{store: store, embedder: embedder}
}

func (p *PostgresVectorIndex) Query(ctx context.Context, query string, k int) ([]match.Hit, error) {
	vec, err := embeddingFunc(p.embedder)(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	rows, err := p.store.SearchVector(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	hits := make([]match.Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, match.Hit{Record: r.Record, Vector: match.Float(r.Score)})
	}
	return hits, nil
}

// PostgresLexicalIndex queries the generated tsvector of the fault_records table.
type PostgresLexicalIndex struct {
	store *database.PostgresStore
}

func NewPostgresLexicalIndex(store *database.PostgresStore) *PostgresLexicalIndex {
	return &PostgresLexicalIndex{store: store}
}

func (p *PostgresLexicalIndex) Query(ctx context.Context, query string, k int) ([]match.Hit, error) {
	rows, err := p.store.SearchLexical(ctx, query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]match.Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, match.Hit{Record: r.Record, Lexical: match.Float(r.Score)})
	}
	return hits, nil
}

// SyncCatalog embeds records and upserts them into Postgres.
func SyncCatalog(ctx context.Context, store *database.PostgresStore, records []catalog.Record, embedder Embedder, logger *zap.Logger) error {
	for start := 0; start < len(records); start += embedBatchSize {
		end := min(start+embedBatchSize, len(records))
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.SearchableText()
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed catalog batch %d-%d: %w", start, end, err)
		}
		for i, rec := range batch {
			if err := store.UpsertFaultRecord(ctx, rec, vectors[i]); err != nil {
				return err
			}
		}
	}

	count, err := store.CountFaultRecords(ctx)
	if err != nil {
		return err
	}
	logger.Info("Catalog synced to Postgres", zap.Int("records", len(records)), zap.Int("stored", count))
	return nil
}
