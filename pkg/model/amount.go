package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is an integer token quantity in the token's smallest unit.
// The relayer sends u128 values as bare JSON numbers, which overflow float64,
// so amounts are carried as arbitrary precision decimals.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps an int64 quantity.
func NewAmount(v int64) Amount {
	return Amount{Decimal: decimal.NewFromInt(v)}
}

// AmountFromString parses a base-10 integer quantity.
func AmountFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return Amount{}, fmt.Errorf("amount %q is not an integer", s)
	}
	return Amount{Decimal: d}, nil
}

// MustAmount is AmountFromString for constants and tests.
func MustAmount(s string) Amount {
	a, err := AmountFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Plus returns a + b.
func (a Amount) Plus(b Amount) Amount {
	return Amount{Decimal: a.Decimal.Add(b.Decimal)}
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool {
	return a.Decimal.LessThan(b.Decimal)
}

// MarshalJSON writes the amount as a bare integer.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.Truncate(0).String()), nil
}

// UnmarshalJSON accepts both bare and quoted integers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	a.Decimal = d
	return nil
}
