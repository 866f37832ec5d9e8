package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/autopilot/internal/middleware"
	"github.com/jmoiron/sqlx"
)

// PostgresIdempotencyStore keeps idempotency keys in the idempotency_keys
// table created by the migrations.
type PostgresIdempotencyStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

func NewPostgresIdempotencyStore(db *sqlx.DB, ttl time.Duration) *PostgresIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PostgresIdempotencyStore{db: db, ttl: ttl}
}

var _ middleware.IdempotencyStore = (*PostgresIdempotencyStore)(nil)

func (s *PostgresIdempotencyStore) GetOrLock(key string) (*middleware.IdempotencyRecord, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	now := time.Now().UTC()
	// An expired row is taken over as a fresh lock.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, processing, created_at)
		VALUES ($1, true, $2)
		ON CONFLICT (key) DO UPDATE SET
			status_code = 0, response_body = NULL, processing = true, created_at = EXCLUDED.created_at
		WHERE idempotency_keys.created_at < $3
	`, key, now, now.Add(-s.ttl))
	if err != nil {
		return nil, false
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil, false
	}

	var rec middleware.IdempotencyRecord
	err = s.db.QueryRowxContext(ctx, `
		SELECT status_code, response_body, created_at, processing
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(&rec.Status, &rec.Body, &rec.CreatedAt, &rec.Processing)
	if err != nil {
		return nil, false
	}
	return &rec, true
}

func (s *PostgresIdempotencyStore) Save(key string, status int, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_, _ = s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status_code = $2, response_body = $3, processing = false
		WHERE key = $1
	`, key, status, body)
}

func (s *PostgresIdempotencyStore) Unlock(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
}

// Cleanup removes keys older than the store's TTL.
func (s *PostgresIdempotencyStore) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
