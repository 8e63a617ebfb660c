package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type PostgresStore struct {
	DB     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to the database")
	return &PostgresStore{DB: db, logger: logger}, nil
}

// EnsureSchema creates the pgvector extension, the fault_records table and
// its lexical and vector indexes if they do not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fault_records (
            id TEXT PRIMARY KEY,
            text TEXT NOT NULL,
            system TEXT DEFAULT '',
            part TEXT DEFAULT '',
            tags TEXT[] DEFAULT '{}'::TEXT[],
            popularity DOUBLE PRECISION DEFAULT 0,
            search_count INTEGER DEFAULT 0,
            vehicle_type TEXT DEFAULT '',
            fault_code TEXT DEFAULT '',
            embedding vector(%d),
            search_tsv tsvector GENERATED ALWAYS AS (
                to_tsvector('simple', coalesce(text, '') || ' ' || coalesce(system, '') || ' ' || coalesce(part, ''))
            ) STORED,
            updated_at TIMESTAMPTZ DEFAULT NOW()
        )`, dim),
		`CREATE INDEX IF NOT EXISTS idx_fault_records_tsv ON fault_records USING GIN (search_tsv)`,
		`CREATE INDEX IF NOT EXISTS idx_fault_records_embedding ON fault_records USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}
