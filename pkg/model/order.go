package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of the market the external party trades on.
type OrderSide string

const (
	// SideBuy buys the base token with the quote token.
	SideBuy OrderSide = "Buy"
	// SideSell sells the base token for the quote token.
	SideSell OrderSide = "Sell"
)

// ParseSide accepts any casing of "buy" or "sell".
func ParseSide(s string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid order side %q", s)
	}
}

// Opposite returns the other side of the market.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s *OrderSide) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode order side: %w", err)
	}
	side, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ExternalOrder is an order from a party with no state committed to the darkpool.
// Exactly one of BaseAmount and QuoteAmount is non-zero; MinFillSize is
// denominated in the same token as that amount.
type ExternalOrder struct {
	QuoteMint      string           `json:"quote_mint"`
	BaseMint       string           `json:"base_mint"`
	Side           OrderSide        `json:"side"`
	BaseAmount     Amount           `json:"base_amount"`
	QuoteAmount    Amount           `json:"quote_amount"`
	MinFillSize    Amount           `json:"min_fill_size"`
	WorstCasePrice *decimal.Decimal `json:"worst_case_price,omitempty"`
}

// DenominatedInBase reports whether the order size is expressed in the base token.
func (o ExternalOrder) DenominatedInBase() bool {
	return o.BaseAmount.IsPositive()
}

// Size returns whichever of the base or quote amounts was set.
func (o ExternalOrder) Size() Amount {
	if o.DenominatedInBase() {
		return o.BaseAmount
	}
	return o.QuoteAmount
}

// SendMint is the token the external party pays.
func (o ExternalOrder) SendMint() string {
	if o.Side == SideSell {
		return o.BaseMint
	}
	return o.QuoteMint
}

// ReceiveMint is the token the external party is paid in.
func (o ExternalOrder) ReceiveMint() string {
	if o.Side == SideSell {
		return o.QuoteMint
	}
	return o.BaseMint
}
