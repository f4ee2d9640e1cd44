package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolPattern is a regexp fragment matching any currency marker. The
// alphabetic markers must start a word so "hrs 10" is not an amount.
const SymbolPattern = `(?:\b(?:INR|Rs\.?)|₹)`

// NumberPattern is a regexp fragment for an amount with optional thousands
// separators and up to two decimals.
const NumberPattern = `([0-9][0-9,]*(?:\.[0-9]{1,2})?)`

// ParseAmount parses "1,23,456.50" style amounts. Commas are stripped.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// ParsePositive is ParseAmount restricted to values above zero.
func ParsePositive(raw string) (decimal.Decimal, bool) {
	d, err := ParseAmount(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// Format renders an amount the way banks print it, e.g. "INR 1500.00".
func Format(d decimal.Decimal) string {
	return "INR " + d.StringFixed(2)
}

// WithinTolerance reports |a-b| <= tol.
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}
