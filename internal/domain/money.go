package domain

import (
	"github.com/shopspring/decimal"
)

var centFactor = decimal.NewFromInt(100)

// ParseAmount converts a decimal string from the API ("125.50") into minor
// units. It rejects non-numeric input, non-positive values and amounts with
// more than two fractional digits, so no precision is ever silently dropped.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, NewValidationError("amount", "not a decimal number")
	}
	if !d.IsPositive() {
		return 0, NewValidationError("amount", "must be positive")
	}
	if d.Exponent() < -2 {
		return 0, NewValidationError("amount", "more than two decimal places")
	}
	cents := d.Mul(centFactor)
	if !cents.IsInteger() {
		return 0, NewValidationError("amount", "more than two decimal places")
	}
	return cents.IntPart(), nil
}

// FormatAmount renders minor units back as a two-decimal string for responses.
func FormatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(centFactor).StringFixed(2)
}
