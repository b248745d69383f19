// Package money converts between USD amounts and integer token micro-units.
// The settlement token is a 6-decimal stable-value token, so 1 USD equals
// 1,000,000 micro-units. All arithmetic downstream of this package is done on
// uint64 micro-units to avoid floating-point drift.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Decimals is the token's decimal precision.
	Decimals = 6

	// Scale is the number of micro-units per whole USD.
	Scale = 1_000_000
)

var (
	// ErrInvalidAmount occurs when a USD input is negative, non-finite, or unparsable.
	ErrInvalidAmount = errors.New("money: invalid amount")
)

// UsdToMicro converts a USD amount to micro-units, flooring fractional
// micro-units. Rejects negative and non-finite inputs.
func UsdToMicro(usd float64) (uint64, error) {
	if math.IsNaN(usd) || math.IsInf(usd, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrInvalidAmount)
	}
	if usd < 0 {
		return 0, fmt.Errorf("%w: negative value %f", ErrInvalidAmount, usd)
	}
	return uint64(math.Floor(usd * Scale)), nil
}

// MicroToUsd converts micro-units back to a USD amount.
func MicroToUsd(micro uint64) float64 {
	return float64(micro) / Scale
}

// ParseUSD parses a human-entered USD string into micro-units. Whitespace,
// a leading "$", and thousand-separator commas are tolerated; no other
// currency symbol is stripped.
func ParseUSD(s string) (uint64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	usd, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return UsdToMicro(usd)
}

// FormatMicro renders micro-units as a decimal USD string, e.g. 1500000 -> "1.50".
func FormatMicro(micro uint64) string {
	whole := micro / Scale
	frac := micro % Scale
	if frac == 0 {
		return fmt.Sprintf("%d.00", whole)
	}
	s := fmt.Sprintf("%d.%06d", whole, frac)
	// Trim trailing zeros but keep at least two fractional digits.
	for strings.HasSuffix(s, "0") && len(s)-strings.IndexByte(s, '.') > 3 {
		s = s[:len(s)-1]
	}
	return s
}

// Sufficient reports whether a paid amount covers the required amount.
// Overpayment always satisfies.
func Sufficient(paid, required uint64) bool {
	return paid >= required
}
