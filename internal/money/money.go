// Package money wraps decimal arithmetic for monetary amounts.
//
// Amounts travel as strings at the API boundary ("100.00") and as
// decimal.Decimal inside the engine. Nothing in here ever touches floats.
package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("money: invalid amount")

// validAmount matches a plain non-negative decimal number.
var validAmount = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Parse converts an API amount string into a decimal.
// Scientific notation, signs, and empty strings are rejected.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !validAmount.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositive is Parse plus an amount > 0 check.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FromCents converts an integer minor-unit amount (e.g. Stripe's
// amount_received) into a decimal with two fractional digits.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders an amount with two fractional digits, the canonical
// wire form ("100.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
