// Package core holds the expense-sheet domain: entities, sheet states,
// month keys, date conversions, money and the error taxonomy.
//
// This file contains money parsing and formatting. Amounts are kept in
// cents so aggregates computed by the database stay exact.
package core

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// MaxAmount is the largest amount, in euros, a single value may carry.
var MaxAmount = decimal.New(1_000_000_000, 0)

// Money is an amount in euro cents.
type Money struct {
	Cents int64
}

// ParseAmount converts a user supplied decimal string to Money.
//
// Both dot (42.50) and comma (42,50) separators are accepted and the value
// is rounded half-up to the cent. Negative, non-numeric and input above
// MaxAmount is rejected.
//
// Examples:
//
//	ParseAmount("42.50") -> Money{4250}, nil
//	ParseAmount("0,625") -> Money{63}, nil
//	ParseAmount("abc")   -> Money{}, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if d.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d to the cent. Values beyond MaxAmount in either
// direction fail with ErrInvalidAmount.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.Abs().GreaterThan(MaxAmount) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Shift(2).Round(0).IntPart()}, nil
}

// Decimal returns the amount in euros.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Times returns m multiplied by a quantity.
func (m Money) Times(q int) Money {
	return Money{Cents: m.Cents * int64(q)}
}

// String formats the amount with two decimals, e.g. "72.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return ErrInvalidAmount
	}
	v, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
