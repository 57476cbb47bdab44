package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists request keys. A key is claimed in_progress when a
// request starts and marked done once the request succeeded.
type IdempotencyStore struct {
	pool  *pgxpool.Pool
	lease time.Duration
}

// DefaultIdempotencyLease is how long an in_progress claim blocks other
// requests before it may be taken over.
const DefaultIdempotencyLease = 2 * time.Minute

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, lease: DefaultIdempotencyLease}
}

var (
	// ErrIdempotencyConflict indicates the key belongs to a request that already succeeded.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyInProgress indicates another request holds the key and has not finished.
	ErrIdempotencyInProgress = errors.New("idempotent request still in progress")
)

const (
	idempotencyInProgress = "in_progress"
	idempotencyDone       = "done"
)

// CheckAndInsert claims key for module. A claim whose lease expired is taken
// over; otherwise an existing key yields ErrIdempotencyConflict when done and
// ErrIdempotencyInProgress when not.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	now := time.Now()
	var state string
	err := s.pool.QueryRow(ctx, `INSERT INTO idempotency_keys (key, module, state, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET module = EXCLUDED.module, created_at = EXCLUDED.created_at
WHERE idempotency_keys.state = $3 AND idempotency_keys.created_at < $5
RETURNING state`, key, module, idempotencyInProgress, now, now.Add(-s.lease)).Scan(&state)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	err = s.pool.QueryRow(ctx, `SELECT state FROM idempotency_keys WHERE key = $1`, key).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		// Released between the two statements.
		return ErrIdempotencyInProgress
	}
	if err != nil {
		return err
	}
	if state == idempotencyDone {
		return ErrIdempotencyConflict
	}
	return ErrIdempotencyInProgress
}

// Complete marks a claimed key done.
func (s *IdempotencyStore) Complete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET state = $2 WHERE key = $1`, key, idempotencyDone)
	return err
}

// Cleanup removes entries older than retention and reports how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
