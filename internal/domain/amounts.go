package domain

import "github.com/shopspring/decimal"

// Quantities and prices are stored as NUMERIC(18,4): at most fourteen integer
// digits and four decimal places.
const (
	MaxAmountScale         = 4
	MaxAmountIntegerDigits = 14
	MaxCreditPeriodDays    = 3650
)

// CheckAmount rejects values the stores cannot hold exactly. It never rescales
// the coefficient, so oversized input is refused without big-number work.
func CheckAmount(field string, v decimal.Decimal) error {
	if v.IsZero() {
		return nil
	}
	if v.Coefficient().BitLen() > 128 {
		return Invalid(field, "is out of range")
	}

	digits := v.NumDigits()
	exp := int(v.Exponent())
	if digits+exp > MaxAmountIntegerDigits {
		return Invalid(field, "must have at most %d integer digits", MaxAmountIntegerDigits)
	}
	if exp < -MaxAmountScale {
		// a nonzero coefficient shorter than the shift always leaves a fraction
		if -MaxAmountScale-exp > digits || !v.Truncate(MaxAmountScale).Equal(v) {
			return Invalid(field, "must have at most %d decimal places", MaxAmountScale)
		}
	}
	return nil
}
