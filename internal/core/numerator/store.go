package numerator

import (
	"context"
	"errors"
)

// ErrConflict is returned by Store.ReserveSequenceValue when the value is
// already taken in the scope.
var ErrConflict = errors.New("sequence value already reserved")

// Store persists reserved sequence values.
type Store interface {
	// FindMaxSequenceForScope returns the highest reserved value, or nil when
	// the scope has none yet.
	FindMaxSequenceForScope(ctx context.Context, scopeKey string) (*int64, error)

	// ReserveSequenceValue records value for the scope. It returns ErrConflict
	// (possibly wrapped) when another caller reserved it first.
	ReserveSequenceValue(ctx context.Context, scopeKey string, value int64) error
}

// Allocator mints identifiers.
type Allocator interface {
	Allocate(ctx context.Context, cfg Config, scope Scope) (Sequence, error)
}
