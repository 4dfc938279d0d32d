// Package money converts raw amount strings to integer cents and back.
// Amounts are stored as signed int64 cents; the sign carries debit/credit
// meaning and is never normalized away.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCents parses a raw amount string ("-42.50", "$1,299.00", "(15.00)")
// into signed cents. Anything not exactly representable in cents is an error.
func ParseCents(s string) (int64, error) {
	clean := strings.TrimSpace(s)
	if clean == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		neg = true
		clean = strings.TrimSpace(clean[1 : len(clean)-1])
	}
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.ReplaceAll(clean, "$", "")
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %q: sub-cent precision", s)
	}
	cents := shifted.IntPart()
	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatCents renders cents as a plain dollar string, e.g. -1050 -> "-10.50".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
