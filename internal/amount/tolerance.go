// internal/amount/tolerance.go
package amount

import "github.com/shopspring/decimal"

// Precision is the number of decimal places amounts are compared at.
const Precision int32 = 4

// Round normalises an amount to the comparison precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// WithinTolerance is the single comparison used for collision checks and for
// matching chain transfers to intents.
func WithinTolerance(a, b, epsilon decimal.Decimal) bool {
	return Round(a).Sub(Round(b)).Abs().LessThanOrEqual(epsilon)
}

// IsRepresentable reports whether d carries no digits beyond Precision.
func IsRepresentable(d decimal.Decimal) bool {
	return Round(d).Equal(d)
}
