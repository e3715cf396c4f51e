package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists idempotency records in the control-plane
// database, the same way controlplane.PostgresStore persists tenant
// limits.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, route, key string) (*Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT route, key, body_hash, last_status, last_reason, attempts, first_seen_at
		FROM idempotency_records WHERE route = $1 AND key = $2
	`, route, key).Scan(&rec.Route, &rec.Key, &rec.BodyHash, &rec.LastStatus,
		&rec.LastReason, &rec.Attempts, &rec.FirstSeenAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_records (route, key, body_hash, last_status, last_reason, attempts, first_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (route, key) DO NOTHING
	`, rec.Route, rec.Key, rec.BodyHash, rec.LastStatus, rec.LastReason, rec.Attempts, rec.FirstSeenAt)
	return err
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, route, key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_records SET attempts = attempts + 1 WHERE route = $1 AND key = $2
	`, route, key)
	return err
}
