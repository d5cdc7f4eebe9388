// Package numerator is the PostgreSQL store behind the sequence allocator.
// Every reserved value is a row in sys_sequence_reservations; the primary
// key (scope_key, value) turns a lost race into a unique violation.
package numerator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	corenumerator "pharmapos/internal/core/numerator"
)

const pgUniqueViolation = "23505"

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Store implements core numerator.Store.
type Store struct {
	querier Querier
}

var _ corenumerator.Store = (*Store)(nil)

// New creates a store. Reservations run outside business transactions, so
// the pool is passed directly.
func New(querier Querier) *Store {
	return &Store{querier: querier}
}

// FindMaxSequenceForScope returns the highest reserved value, or nil.
func (s *Store) FindMaxSequenceForScope(ctx context.Context, scopeKey string) (*int64, error) {
	var maxVal *int64
	err := s.querier.QueryRow(ctx, `
		SELECT MAX(value) FROM sys_sequence_reservations WHERE scope_key = $1
	`, scopeKey).Scan(&maxVal)
	if err != nil {
		return nil, fmt.Errorf("find max sequence: %w", err)
	}
	return maxVal, nil
}

// ReserveSequenceValue inserts the value. A concurrent reservation of the
// same value surfaces as ErrConflict.
func (s *Store) ReserveSequenceValue(ctx context.Context, scopeKey string, value int64) error {
	_, err := s.querier.Exec(ctx, `
		INSERT INTO sys_sequence_reservations (scope_key, value) VALUES ($1, $2)
	`, scopeKey, value)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("reserve %s/%d: %w", scopeKey, value, corenumerator.ErrConflict)
	}
	return fmt.Errorf("reserve sequence value: %w", err)
}
