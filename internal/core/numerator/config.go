// Package numerator provides domain contracts for user-scoped sequence allocation.
package numerator

import "fmt"

// Config holds numbering configuration.
type Config struct {
	// Prefix added to all identifiers (e.g., "RET", "INT")
	Prefix string

	// PadWidth is the minimum number width (default 5)
	PadWidth int

	// MaxAttempts bounds the reserve/re-read loop before falling back (default 3)
	MaxAttempts int

	// DisableFallback makes the allocator return ConflictError instead of
	// minting a timestamp-derived identifier once attempts are exhausted.
	DisableFallback bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		PadWidth:    5,
		MaxAttempts: 3,
	}
}

// Scope identifies an independent sequence. Identifiers are unique within
// a scope; different operators never contend with each other.
type Scope struct {
	Prefix string
	UserID string
}

// Key returns the storage key for the scope.
func (s Scope) Key() string {
	if s.UserID == "" {
		return s.Prefix
	}
	return fmt.Sprintf("%s:%s", s.Prefix, s.UserID)
}

// Sequence is an allocated identifier.
type Sequence struct {
	// Value is the reserved numeric value; zero for fallback identifiers.
	Value int64
	// Identifier is the formatted, globally unique identifier.
	Identifier string
	// Fallback is true when the value could not be reserved within budget.
	Fallback bool
	// Attempts is how many reservations were tried.
	Attempts int
}
