package database

import (
	"context"
	"fmt"

	"fault-matcher/catalog"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// ScoredRecord is a catalog record with the raw score a query assigned to it.
type ScoredRecord struct {
	Record catalog.Record
	Score  float64
}

const recordColumns = `id, text, system, part, tags, popularity, search_count, vehicle_type, fault_code`

// UpsertFaultRecord stores or replaces a catalog record together with its embedding.
func (s *PostgresStore) UpsertFaultRecord(ctx context.Context, rec catalog.Record, embedding []float32) error {
	query := `
        INSERT INTO fault_records (id, text, system, part, tags, popularity, search_count, vehicle_type, fault_code, embedding, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (id)
        DO UPDATE SET text = EXCLUDED.text, system = EXCLUDED.system, part = EXCLUDED.part, tags = EXCLUDED.tags,
            popularity = EXCLUDED.popularity, search_count = EXCLUDED.search_count,
            vehicle_type = EXCLUDED.vehicle_type, fault_code = EXCLUDED.fault_code,
            embedding = EXCLUDED.embedding, updated_at = NOW()
    `
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.DB.ExecContext(ctx, query,
		rec.ID, rec.Text, rec.System, rec.Part, pq.Array(tags),
		rec.Popularity, rec.SearchCount, rec.VehicleType, rec.FaultCode, vec)
	if err != nil {
		return fmt.Errorf("failed to upsert fault record %s: %w", rec.ID, err)
	}
	return nil
}

// SearchLexical ranks records by full-text match against query.
func (s *PostgresStore) SearchLexical(ctx context.Context, query string, k int) ([]ScoredRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	sqlQuery := fmt.Sprintf(`
        SELECT %s, ts_rank_cd(search_tsv, q) AS score
        FROM fault_records, plainto_tsquery('simple', $1) q
        WHERE search_tsv @@ q
        ORDER BY score DESC
        LIMIT $2`, recordColumns)
	return s.queryScored(ctx, sqlQuery, query, k)
}

// SearchVector ranks records by cosine similarity to vec.
func (s *PostgresStore) SearchVector(ctx context.Context, vec []float32, k int) ([]ScoredRecord, error) {
	if k <= 0 || len(vec) == 0 {
		return nil, nil
	}
	sqlQuery := fmt.Sprintf(`
        SELECT %s, 1 - (embedding <=> $1) AS score
        FROM fault_records
        WHERE embedding IS NOT NULL
        ORDER BY embedding <=> $1
        LIMIT $2`, recordColumns)
	return s.queryScored(ctx, sqlQuery, pgvector.NewVector(vec), k)
}

func (s *PostgresStore) queryScored(ctx context.Context, sqlQuery string, arg any, k int) ([]ScoredRecord, error) {
	rows, err := s.DB.QueryContext(ctx, sqlQuery, arg, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search fault records: %w", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var r ScoredRecord
		var tags pq.StringArray
		if err := rows.Scan(&r.Record.ID, &r.Record.Text, &r.Record.System, &r.Record.Part, &tags,
			&r.Record.Popularity, &r.Record.SearchCount, &r.Record.VehicleType, &r.Record.FaultCode,
			&r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan fault record: %w", err)
		}
		r.Record.Tags = []string(tags)
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountFaultRecords returns the number of stored records.
func (s *PostgresStore) CountFaultRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM fault_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fault records: %w", err)
	}
	return n, nil
}
