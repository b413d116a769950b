package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgx shared by pools and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool Execer
	now  func() time.Time
}

// NewIdempotencyStore constructs the store. pool is only used by Cleanup.
func NewIdempotencyStore(pool Execer) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Claim inserts key for scope through q, normally the caller's transaction, so
// the key only persists when the surrounding mutation commits.
func (s *IdempotencyStore) Claim(ctx context.Context, q Execer, key, scope string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	if q == nil {
		q = s.pool
	}
	_, err := q.Exec(ctx, `INSERT INTO idempotency_keys (key, scope, created_at) VALUES ($1, $2, $3)`, key, scope, s.now().UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrAlreadyApplied
		}
		return fmt.Errorf("idempotency: claim: %w", err)
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
