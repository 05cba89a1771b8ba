// pkg/utils/helpers.go
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func StringPtr(s string) *string {
	return &s
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ParseAmount parses a positive decimal amount from user input
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d)
	}
	return d, nil
}

// FormatAmount renders d with the asset symbol, e.g. "10.0042 DEL"
func FormatAmount(d decimal.Decimal, symbol string) string {
	return fmt.Sprintf("%s %s", d.String(), symbol)
}
