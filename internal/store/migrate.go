package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS gate_stats (
		tier TEXT NOT NULL,
		bucket_start INTEGER NOT NULL,
		allowed INTEGER NOT NULL DEFAULT 0,
		denied INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tier, bucket_start)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_stats_bucket ON gate_stats(bucket_start);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
