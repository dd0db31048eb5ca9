// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidAmount is returned for amounts that are not plain positive decimals.
var ErrInvalidAmount = errors.New("invalid amount")

// FormatUnits formats an amount in smallest units as a decimal string.
// For example, FormatUnits(big.NewInt(150000), 8) returns "0.0015".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole := new(big.Int).Div(abs, divisor)
	frac := new(big.Int).Mod(abs, divisor)

	out := whole.String()
	if frac.Sign() != 0 {
		fracStr := frac.String()
		fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
		out += "." + strings.TrimRight(fracStr, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// FormatUint formats a uint64 amount in smallest units.
func FormatUint(amount uint64, decimals uint8) string {
	return FormatUnits(new(big.Int).SetUint64(amount), decimals)
}

// ParseUnits parses a decimal string into smallest units.
// Digits beyond the asset's precision are rejected rather than truncated so
// that a user never swaps less than they typed.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	wholeStr, fracStr, hasDot := strings.Cut(s, ".")
	if hasDot && fracStr == "" && wholeStr == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if wholeStr == "" {
		wholeStr = "0"
	}
	if !isDigits(wholeStr) || !isDigits(fracStr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	fracStr = strings.TrimRight(fracStr, "0")
	if len(fracStr) > int(decimals) {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, decimals)
	}
	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return amount, nil
}

// ParsePositiveUnits is ParseUnits that also rejects zero.
func ParsePositiveUnits(s string, decimals uint8) (*big.Int, error) {
	amount, err := ParseUnits(s, decimals)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return amount, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
