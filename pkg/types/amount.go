package types

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// MaxDecimals bounds the decimals of a token so 10^decimals fits in 256 bits.
const MaxDecimals = 77

// Unit returns 10^decimals, the number of base units in one whole token.
func Unit(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// ParseAmount parses a decimal token amount such as "100" or "0.25" into
// base units. Fractional digits beyond decimals are rejected.
func ParseAmount(s string, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("decimals %d out of range", decimals)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// FormatAmount renders base units as a decimal token amount, trimming
// trailing fractional zeros.
func FormatAmount(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	s := v.Dec()
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
