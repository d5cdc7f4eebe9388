// Package numerator provides the user-scoped sequence allocator.
//
// Allocation reads the current maximum for a scope, tries to reserve max+1
// and, when another caller got there first, re-reads and tries again. After a
// bounded number of conflicts it mints a timestamp-derived identifier so the
// enclosing operation can still make progress.
package numerator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pharmapos/internal/core/apperror"
	corenumerator "pharmapos/internal/core/numerator"
	"pharmapos/pkg/logger"
)

// Service allocates identifiers against a Store.
type Service struct {
	store corenumerator.Store
	now   func() time.Time

	// fallbackSeq disambiguates fallback identifiers minted within the same clock tick.
	fallbackSeq atomic.Uint64
}

// Ensure compile-time interface compliance.
var _ corenumerator.Allocator = (*Service)(nil)

// New creates an allocator backed by store.
func New(store corenumerator.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Allocate reserves the next identifier for scope.
func (s *Service) Allocate(ctx context.Context, cfg corenumerator.Config, scope corenumerator.Scope) (corenumerator.Sequence, error) {
	if s == nil || s.store == nil {
		return corenumerator.Sequence{}, fmt.Errorf("numerator service is not initialized")
	}
	if scope.Prefix == "" {
		scope.Prefix = cfg.Prefix
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	key := scope.Key()
	var lastConflict error
	for attempt := 1; attempt <= attempts; attempt++ {
		maxVal, err := s.store.FindMaxSequenceForScope(ctx, key)
		if err != nil {
			return corenumerator.Sequence{}, fmt.Errorf("find max sequence for %s: %w", key, err)
		}

		next := int64(1)
		if maxVal != nil {
			next = *maxVal + 1
		}

		err = s.store.ReserveSequenceValue(ctx, key, next)
		if err == nil {
			return corenumerator.Sequence{
				Value:      next,
				Identifier: formatNumber(scope.Prefix, cfg.PadWidth, next),
				Attempts:   attempt,
			}, nil
		}
		if !errors.Is(err, corenumerator.ErrConflict) {
			return corenumerator.Sequence{}, fmt.Errorf("reserve sequence %s=%d: %w", key, next, err)
		}

		lastConflict = err
		logger.Debug(ctx, "sequence conflict, re-reading",
			"scope", key,
			"value", next,
			"attempt", attempt,
		)
	}

	if cfg.DisableFallback {
		return corenumerator.Sequence{}, apperror.NewConflict("sequence allocation exhausted its retry budget").
			WithDetail("scope", key).
			WithDetail("attempts", attempts).
			WithCause(lastConflict)
	}

	seq := corenumerator.Sequence{
		Identifier: s.fallbackIdentifier(scope),
		Fallback:   true,
		Attempts:   attempts,
	}
	logger.Warn(ctx, "sequence allocation fell back to timestamp identifier",
		"scope", key,
		"identifier", seq.Identifier,
		"attempts", attempts,
	)
	return seq, nil
}

// fallbackIdentifier combines the scope, a nanosecond timestamp and a
// process-wide counter. The counter keeps identifiers distinct even when the
// clock does not advance between calls.
func (s *Service) fallbackIdentifier(scope corenumerator.Scope) string {
	n := s.fallbackSeq.Add(1)
	ts := s.now().UTC().UnixNano()
	if scope.UserID != "" {
		return fmt.Sprintf("%s-%s-T%d-%d", scope.Prefix, scope.UserID, ts, n)
	}
	return fmt.Sprintf("%s-T%d-%d", scope.Prefix, ts, n)
}

// formatNumber creates the final identifier string.
func formatNumber(prefix string, padWidth int, num int64) string {
	if padWidth == 0 {
		padWidth = 5
	}
	return fmt.Sprintf("%s-%0*d", prefix, padWidth, num)
}
