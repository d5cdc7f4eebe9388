package numerator

import (
	"context"
	"fmt"
)

// MockAllocator is a test implementation of Allocator.
// Use in unit tests to avoid database dependencies.
type MockAllocator struct {
	AllocateFunc func(ctx context.Context, cfg Config, scope Scope) (Sequence, error)
	calls        int64
}

// Allocate implements Allocator.
func (m *MockAllocator) Allocate(ctx context.Context, cfg Config, scope Scope) (Sequence, error) {
	if m.AllocateFunc != nil {
		return m.AllocateFunc(ctx, cfg, scope)
	}
	// Default: predictable increasing identifiers
	m.calls++
	return Sequence{
		Value:      m.calls,
		Identifier: fmt.Sprintf("%s-%05d", cfg.Prefix, m.calls),
		Attempts:   1,
	}, nil
}

// MockStore is a scriptable Store.
type MockStore struct {
	FindMaxFunc func(ctx context.Context, scopeKey string) (*int64, error)
	ReserveFunc func(ctx context.Context, scopeKey string, value int64) error
}

// FindMaxSequenceForScope implements Store.
func (m *MockStore) FindMaxSequenceForScope(ctx context.Context, scopeKey string) (*int64, error) {
	if m.FindMaxFunc != nil {
		return m.FindMaxFunc(ctx, scopeKey)
	}
	return nil, nil
}

// ReserveSequenceValue implements Store.
func (m *MockStore) ReserveSequenceValue(ctx context.Context, scopeKey string, value int64) error {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, scopeKey, value)
	}
	return nil
}

// Ensure compile-time interface compliance.
var (
	_ Allocator = (*MockAllocator)(nil)
	_ Store     = (*MockStore)(nil)
)
