package darkpool

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// NativeETHMint is the placeholder address the relayer uses for native ETH.
const NativeETHMint = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// OrderParams are the inputs to NewOrder. Exactly one of BaseAmount and
// QuoteAmount must be set.
type OrderParams struct {
	BaseMint       string
	QuoteMint      string
	Side           model.OrderSide
	BaseAmount     model.Amount
	QuoteAmount    model.Amount
	MinFillSize    model.Amount
	WorstCasePrice *decimal.Decimal
}

// NormalizeMint parses a hex token address and returns it lowercased with a
// 0x prefix.
func NormalizeMint(mint string) (string, error) {
	mint = strings.TrimSpace(mint)
	if !common.IsHexAddress(mint) {
		return "", &InvalidOrderError{Reason: "invalid mint " + mint}
	}
	return strings.ToLower(common.HexToAddress(mint).Hex()), nil
}

func sameMint(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NewOrder validates p and builds the external order sent to the relayer.
func NewOrder(p OrderParams) (model.ExternalOrder, error) {
	base, err := NormalizeMint(p.BaseMint)
	if err != nil {
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "invalid base mint"}
	}
	quote, err := NormalizeMint(p.QuoteMint)
	if err != nil {
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "invalid quote mint"}
	}
	if base == quote {
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "base and quote mints must differ"}
	}
	if p.Side != model.SideBuy && p.Side != model.SideSell {
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "invalid side"}
	}
	if p.BaseAmount.IsNegative() || p.QuoteAmount.IsNegative() || p.MinFillSize.IsNegative() {
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "amounts must not be negative"}
	}

	hasBase, hasQuote := p.BaseAmount.IsPositive(), p.QuoteAmount.IsPositive()
	switch {
	case !hasBase && !hasQuote:
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "must set either base_amount or quote_amount"}
	case hasBase && hasQuote:
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "cannot set both base_amount and quote_amount"}
	}

	order := model.ExternalOrder{
		QuoteMint:   quote,
		BaseMint:    base,
		Side:        p.Side,
		BaseAmount:  p.BaseAmount,
		QuoteAmount: p.QuoteAmount,
		MinFillSize: p.MinFillSize,
	}
	if order.Size().LessThan(p.MinFillSize) {
		return model.ExternalOrder{}, &InvalidOrderError{Reason: "min_fill_size exceeds order size"}
	}
	if p.WorstCasePrice != nil {
		if !p.WorstCasePrice.IsPositive() {
			return model.ExternalOrder{}, &InvalidOrderError{Reason: "worst_case_price must be positive"}
		}
		wc := *p.WorstCasePrice
		order.WorstCasePrice = &wc
	}
	return order, nil
}

// checkUpdatedOrder allows size changes on assemble but not a different pair or side.
func checkUpdatedOrder(original, updated model.ExternalOrder) error {
	if !sameMint(original.BaseMint, updated.BaseMint) || !sameMint(original.QuoteMint, updated.QuoteMint) {
		return &InvalidOrderError{Reason: "updated order must keep the quoted pair"}
	}
	if original.Side != updated.Side {
		return &InvalidOrderError{Reason: "updated order must keep the quoted side"}
	}
	return nil
}
