package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptotrial/uptotrial/internal/gate"
)

// StatsBucket is one persisted row of aggregate gate traffic: totals for
// one tier within one hourly bucket.
type StatsBucket struct {
	Tier        gate.Tier
	BucketStart time.Time
	Allowed     int64
	Denied      int64
	UpdatedAt   time.Time
}

// bucketStart truncates a timestamp to the hourly persistence bucket.
func bucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// RecordStats merges drained aggregator totals into the current hourly
// bucket. A nil or empty drain is a no-op.
func (s *Store) RecordStats(ctx context.Context, at time.Time, counts map[gate.Tier]gate.TierCounts) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if len(counts) == 0 {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	bucket := bucketStart(at).Unix()
	now := time.Now().UTC().Unix()

	for tier, c := range counts {
		if c.Allowed == 0 && c.Denied == 0 {
			continue
		}

		_, err := s.DB.ExecContext(ctx, `
			INSERT INTO gate_stats (tier, bucket_start, allowed, denied, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tier, bucket_start) DO UPDATE SET
				allowed = allowed + excluded.allowed,
				denied = denied + excluded.denied,
				updated_at = excluded.updated_at
		`, string(tier), bucket, c.Allowed, c.Denied, now)
		if err != nil {
			return fmt.Errorf("store gate stats: %w", err)
		}
	}

	return nil
}

// ListStats returns persisted buckets newer than since, most recent first.
// A zero since returns everything.
func (s *Store) ListStats(ctx context.Context, since time.Time) ([]StatsBucket, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT tier, bucket_start, allowed, denied, updated_at
		FROM gate_stats
		WHERE bucket_start >= ?
		ORDER BY bucket_start DESC, tier ASC
	`, since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list gate stats: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var buckets []StatsBucket
	for rows.Next() {
		var (
			tier      string
			bucket    int64
			allowed   int64
			denied    int64
			updatedAt int64
		)
		if err := rows.Scan(&tier, &bucket, &allowed, &denied, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan gate stats: %w", err)
		}

		buckets = append(buckets, StatsBucket{
			Tier:        gate.Tier(tier),
			BucketStart: time.Unix(bucket, 0).UTC(),
			Allowed:     allowed,
			Denied:      denied,
			UpdatedAt:   time.Unix(updatedAt, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list gate stats: %w", err)
	}

	return buckets, nil
}

// ResetStats deletes all persisted buckets and reports how many were removed.
func (s *Store) ResetStats(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM gate_stats`)
	if err != nil {
		return 0, fmt.Errorf("reset gate stats: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}
