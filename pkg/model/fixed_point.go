package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// FixedPointPrecisionBits is the number of fractional bits in a FixedPoint.
const FixedPointPrecisionBits = 63

var fixedPointShift = decimal.NewFromInt(1 << 62).Mul(decimal.NewFromInt(2))

// FixedPoint is a non-negative binary fixed point number with 63 fractional
// bits, represented by its scaled integer Repr.
type FixedPoint struct {
	Repr decimal.Decimal
}

// FixedPointFromDecimal scales d into fixed point, flooring the remainder.
func FixedPointFromDecimal(d decimal.Decimal) FixedPoint {
	return FixedPoint{Repr: d.Mul(fixedPointShift).Floor()}
}

// Decimal returns the approximate decimal value.
func (f FixedPoint) Decimal() decimal.Decimal {
	return f.Repr.DivRound(fixedPointShift, 18)
}

// FloorMulInt returns floor(f * amount).
func (f FixedPoint) FloorMulInt(amount Amount) Amount {
	q, _ := f.Repr.Mul(amount.Decimal).QuoRem(fixedPointShift, 0)
	return Amount{Decimal: q}
}

// CeilDivInt returns ceil(amount / f). A zero f yields zero.
func (f FixedPoint) CeilDivInt(amount Amount) Amount {
	if f.Repr.IsZero() {
		return Amount{}
	}
	num := amount.Decimal.Mul(fixedPointShift)
	q, r := num.QuoRem(f.Repr, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return Amount{Decimal: q}
}

func (f FixedPoint) MarshalJSON() ([]byte, error) {
	return []byte(`{"value":` + f.Repr.Truncate(0).String() + `}`), nil
}

// UnmarshalJSON accepts {"value": n}, a bare integer or a quoted integer.
func (f *FixedPoint) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var wrapped struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(b, &wrapped); err != nil {
			return fmt.Errorf("decode fixed point: %w", err)
		}
		b = wrapped.Value
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("decode fixed point: %w", err)
	}
	f.Repr = d
	return nil
}
