package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

func (r QuoteCreateRequest) Validate() error {
	if strings.TrimSpace(r.ClientID) == "" {
		return fmt.Errorf("clientId is required")
	}
	if strings.TrimSpace(r.BaseMint) == "" {
		return fmt.Errorf("baseMint is required")
	}
	if strings.TrimSpace(r.QuoteMint) == "" {
		return fmt.Errorf("quoteMint is required")
	}
	if _, err := model.ParseSide(r.Side); err != nil {
		return fmt.Errorf("side must be 'buy' or 'sell'")
	}
	if (r.BaseAmount == "") == (r.QuoteAmount == "") {
		return fmt.Errorf("exactly one of baseAmount and quoteAmount is required")
	}
	return nil
}

// OrderParams converts the request into darkpool order inputs.
func (r QuoteCreateRequest) OrderParams() (darkpool.OrderParams, error) {
	side, err := model.ParseSide(r.Side)
	if err != nil {
		return darkpool.OrderParams{}, err
	}
	p := darkpool.OrderParams{
		BaseMint:  r.BaseMint,
		QuoteMint: r.QuoteMint,
		Side:      side,
	}
	if p.BaseAmount, err = parseAmount("baseAmount", r.BaseAmount); err != nil {
		return p, err
	}
	if p.QuoteAmount, err = parseAmount("quoteAmount", r.QuoteAmount); err != nil {
		return p, err
	}
	if p.MinFillSize, err = parseAmount("minFillSize", r.MinFillSize); err != nil {
		return p, err
	}
	if r.WorstCasePrice != "" {
		price, err := decimal.NewFromString(r.WorstCasePrice)
		if err != nil || !price.IsPositive() {
			return p, fmt.Errorf("worstCasePrice must be a positive decimal")
		}
		p.WorstCasePrice = &price
	}
	return p, nil
}

// resize applies the requested amounts to the order a flow was quoted for.
func (r AssembleRequest) resize(order model.ExternalOrder) (darkpool.OrderParams, error) {
	p := darkpool.OrderParams{
		BaseMint:       order.BaseMint,
		QuoteMint:      order.QuoteMint,
		Side:           order.Side,
		BaseAmount:     order.BaseAmount,
		QuoteAmount:    order.QuoteAmount,
		MinFillSize:    order.MinFillSize,
		WorstCasePrice: order.WorstCasePrice,
	}
	if r.BaseAmount != "" && r.QuoteAmount != "" {
		return p, fmt.Errorf("at most one of baseAmount and quoteAmount may be set")
	}
	var err error
	if r.BaseAmount != "" {
		if p.BaseAmount, err = parseAmount("baseAmount", r.BaseAmount); err != nil {
			return p, err
		}
		p.QuoteAmount = model.Amount{}
	}
	if r.QuoteAmount != "" {
		if p.QuoteAmount, err = parseAmount("quoteAmount", r.QuoteAmount); err != nil {
			return p, err
		}
		p.BaseAmount = model.Amount{}
	}
	if r.MinFillSize != "" {
		if p.MinFillSize, err = parseAmount("minFillSize", r.MinFillSize); err != nil {
			return p, err
		}
	}
	return p, nil
}

func parseAmount(field, s string) (model.Amount, error) {
	if s == "" {
		return model.Amount{}, nil
	}
	a, err := model.AmountFromString(s)
	if err != nil {
		return model.Amount{}, fmt.Errorf("%s must be an integer amount", field)
	}
	if a.IsNegative() {
		return model.Amount{}, fmt.Errorf("%s must not be negative", field)
	}
	return a, nil
}
