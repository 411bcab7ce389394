package decimal

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// RateTolerance is the accepted difference, in percentage points,
// between a supplied rate and the one published by the catalog
var RateTolerance = decimal.RequireFromString("0.01")

// MaxISSRate is the statutory ceiling for the municipal service tax, in percent
var MaxISSRate = decimal.NewFromInt(5)

// FromLocalized parses numbers written either as "1234.56" or in the
// Brazilian style "1.234,56"
func FromLocalized(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}

// NormalizeRate converts a tax rate to a percentage.
// Values in (0, 1] are read as fractions and multiplied by 100; anything
// above 1 is assumed to be a percentage already. Exactly 1 therefore
// becomes 100.
func NormalizeRate(rate decimal.Decimal) decimal.Decimal {
	if rate.GreaterThan(Zero) && rate.LessThanOrEqual(one) {
		return rate.Mul(hundred)
	}
	return rate
}

// ApproxEqual reports whether a and b differ by no more than tolerance
func ApproxEqual(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// FormatMoney renders a monetary value with two decimal places
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatRate renders a percentage with two decimal places
func FormatRate(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}
