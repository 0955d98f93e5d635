// Package money converts between decimal strings and integer minor units.
// Amounts are int64 cents everywhere past the codec boundary.
package money

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid monetary amount")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrOverflow        = errors.New("monetary amount out of range")
)

var (
	amountPattern   = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ParseCents converts a decimal string such as "12.3" or "-0.015" into cents.
// The fractional part is padded or truncated to exactly two digits; no
// rounding is applied and binary floating point is never involved.
func ParseCents(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" || !amountPattern.MatchString(value) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(strings.TrimPrefix(value, "+"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	cents := d.Shift(2).Truncate(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, raw)
	}
	return cents.IntPart(), nil
}

// MustParseCents is ParseCents for literals known to be valid.
func MustParseCents(raw string) int64 {
	cents, err := ParseCents(raw)
	if err != nil {
		panic(err)
	}
	return cents
}

// FormatCents renders cents as a two-decimal string: 1205 -> "12.05".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// NormalizeCurrency upper-cases and validates an ISO 4217 alphabetic code.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return code, nil
}

// ApplyBasisPoints returns round(amount * bps / 10000), half away from zero.
func ApplyBasisPoints(amount int64, bps int) int64 {
	return ScaleRound(amount, int64(bps), 10000)
}

// ScaleRound returns round(amount * num / den), half away from zero. A zero
// denominator yields zero.
func ScaleRound(amount, num, den int64) int64 {
	if den == 0 {
		return 0
	}
	product := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num))
	return product.Div(decimal.NewFromInt(den)).Round(0).IntPart()
}
