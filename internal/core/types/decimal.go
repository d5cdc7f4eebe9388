// Package types provides common type aliases and utilities.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Percent is a plain percentage figure: 18 means 18%.
type Percent = decimal.Decimal

// DisplayPlaces is the number of fractional digits shown to operators.
// Rounding to it happens only at presentation time.
const DisplayPlaces int32 = 2

// NewMoney creates a Money value from a float.
// WARNING: Use NewMoneyFromString for precise values.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Display renders m rounded half-away-from-zero to DisplayPlaces digits.
func Display(m Money) string {
	return m.StringFixed(DisplayPlaces)
}

// RoundDisplay returns m rounded the same way Display renders it.
func RoundDisplay(m Money) Money {
	return m.Round(DisplayPlaces)
}

// Rate converts a percentage into a multiplier fraction (18 -> 0.18).
func Rate(p Percent) decimal.Decimal {
	return p.Shift(-2)
}

// ValidatePercent checks that p is within [0, 100].
func ValidatePercent(p Percent) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("percentage %s out of range [0, 100]", p.String())
	}
	return nil
}
