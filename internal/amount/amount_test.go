package amount

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	f := NewFingerprinter(DefaultGranularity, DefaultSlots)
	base := decimal.NewFromInt(10)

	first := f.Fingerprint(base, "user-a", 0)
	for i := 0; i < 5; i++ {
		assert.True(t, first.Equal(f.Fingerprint(base, "user-a", 0)))
	}
}

func TestFingerprintOffsetBounds(t *testing.T) {
	f := NewFingerprinter(DefaultGranularity, DefaultSlots)
	base := decimal.RequireFromString("10")
	lo := DefaultGranularity
	hi := decimal.RequireFromString("0.0999")

	for i := 0; i < 200; i++ {
		offset := f.Offset(base, fmt.Sprintf("user-%d", i), 0)
		assert.True(t, offset.GreaterThanOrEqual(lo), "offset %s below granularity", offset)
		assert.True(t, offset.LessThanOrEqual(hi), "offset %s above max", offset)
		assert.True(t, IsRepresentable(offset))
	}
	assert.True(t, f.MaxOffset().Equal(hi))
}

func TestFingerprintDistinctUsers(t *testing.T) {
	f := NewFingerprinter(DefaultGranularity, DefaultSlots)
	base := decimal.NewFromInt(10)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		seen[f.Fingerprint(base, fmt.Sprintf("user-%d", i), 0).String()] = struct{}{}
	}
	// birthday bound over 999 slots
	assert.GreaterOrEqual(t, len(seen), 18)
}

func TestFingerprintSaltChangesOffset(t *testing.T) {
	f := NewFingerprinter(DefaultGranularity, DefaultSlots)
	base := decimal.NewFromInt(25)

	seen := make(map[string]struct{})
	for salt := uint32(0); salt < 10; salt++ {
		seen[f.Fingerprint(base, "user-a", salt).String()] = struct{}{}
	}
	assert.GreaterOrEqual(t, len(seen), 8)
}

func TestFingerprintNormalisesBase(t *testing.T) {
	f := NewFingerprinter(DefaultGranularity, DefaultSlots)

	a := f.Fingerprint(decimal.RequireFromString("10"), "user-a", 0)
	b := f.Fingerprint(decimal.RequireFromString("10.00"), "user-a", 0)
	assert.True(t, a.Equal(b))
}

func TestWithinTolerance(t *testing.T) {
	eps := decimal.RequireFromString("0.00005")
	tests := []struct {
		a, b string
		want bool
	}{
		{"10.0037", "10.0037", true},
		{"10.0037", "10.003700000000000001", true},
		{"10.00369999", "10.0037", true},
		{"10.0037", "10.0038", false},
		{"10.0037", "10.0036", false},
		{"1", "1.00004", true},
	}
	for _, tt := range tests {
		t.Run(tt.a+"~"+tt.b, func(t *testing.T) {
			a := decimal.RequireFromString(tt.a)
			b := decimal.RequireFromString(tt.b)
			assert.Equal(t, tt.want, WithinTolerance(a, b, eps))
			assert.Equal(t, tt.want, WithinTolerance(b, a, eps))
		})
	}
}

func TestIsRepresentable(t *testing.T) {
	assert.True(t, IsRepresentable(decimal.RequireFromString("10.0001")))
	assert.False(t, IsRepresentable(decimal.RequireFromString("10.00001")))
}
