// Package currency converts amounts between USD and the store's local
// currency using a rate captured by the caller.
//
// Rates are expressed as local units per USD. A rate is read once per
// operation and stored next to whatever it priced, so historical entries are
// never re-priced.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const USD = "USD"

// MoneyPlaces is the precision persisted money is rounded to.
const MoneyPlaces = 2

var ErrInvalidRate = errors.New("invalid exchange rate")

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsUSD(code string) bool {
	return Normalize(code) == USD
}

// ToUSD converts an amount held in currency into USD.
func ToUSD(amount decimal.Decimal, code string, rate decimal.Decimal) (decimal.Decimal, error) {
	if IsUSD(code) {
		return amount, nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s for %s", ErrInvalidRate, rate.String(), Normalize(code))
	}
	return amount.Div(rate), nil
}

// FromUSD converts a USD amount into currency.
func FromUSD(amountUSD decimal.Decimal, code string, rate decimal.Decimal) (decimal.Decimal, error) {
	if IsUSD(code) {
		return amountUSD, nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s for %s", ErrInvalidRate, rate.String(), Normalize(code))
	}
	return amountUSD.Mul(rate), nil
}

// RateFor returns the rate that applies to code: one for USD, localRate otherwise.
func RateFor(code string, localRate decimal.Decimal) decimal.Decimal {
	if IsUSD(code) {
		return decimal.NewFromInt(1)
	}
	return localRate
}

func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}
