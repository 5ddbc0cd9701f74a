package darkpool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// terms is the part of a quote or bundle the checks run against.
type terms struct {
	quoteMint string
	baseMint  string
	side      model.OrderSide
	direction model.OrderSide
	send      model.AssetTransfer
	receive   model.AssetTransfer
	fees      model.FeeTake
	gross     decimal.Decimal
	price     decimal.Decimal
}

// ValidateQuote checks a relayer quote against the order that was requested.
// Checks run in a fixed order and stop at the first failure, which is
// reported as a *ValidationError tagged with the failed check.
func ValidateQuote(requested model.ExternalOrder, quote model.Quote) error {
	price := quote.Price.Price
	t := terms{
		quoteMint: quote.Order.QuoteMint,
		baseMint:  quote.Order.BaseMint,
		side:      quote.Order.Side,
		direction: quote.MatchResult.Direction,
		send:      quote.Send,
		receive:   quote.Receive,
		fees:      quote.Fees,
		price:     price,
	}
	if err := checkMintPair(requested, t); err != nil {
		return err
	}
	if quote.MatchResult.BaseMint != "" && quote.MatchResult.QuoteMint != "" {
		if !sameMint(quote.MatchResult.BaseMint, requested.BaseMint) || !sameMint(quote.MatchResult.QuoteMint, requested.QuoteMint) {
			return invalid(CheckMintPair, "match result pair %s/%s does not match requested %s/%s",
				quote.MatchResult.BaseMint, quote.MatchResult.QuoteMint, requested.BaseMint, requested.QuoteMint)
		}
	}
	if err := checkSide(requested, t); err != nil {
		return err
	}
	if err := checkPositiveAmounts(t); err != nil {
		return err
	}

	if !price.IsPositive() {
		return invalid(CheckPrice, "quoted price %s is not positive", price)
	}
	if requested.Side == model.SideSell {
		t.gross = price.Mul(quote.Send.Amount.Decimal)
	} else {
		t.gross = quote.Send.Amount.Decimal.DivRound(price, 18)
	}
	return checkRest(requested, t)
}

// ValidateBundle applies the quote checks to an assembled bundle, deriving
// gross proceeds and price from the match result, and also requires a
// settlement transaction with a target address and calldata.
func ValidateBundle(requested model.ExternalOrder, bundle model.Bundle) error {
	mr := bundle.MatchResult
	t := terms{
		quoteMint: mr.QuoteMint,
		baseMint:  mr.BaseMint,
		side:      mr.Direction,
		send:      bundle.Send,
		receive:   bundle.Receive,
		fees:      bundle.Fees,
	}
	if err := checkMintPair(requested, t); err != nil {
		return err
	}
	if err := checkSide(requested, t); err != nil {
		return err
	}
	if err := checkPositiveAmounts(t); err != nil {
		return err
	}

	if !mr.BaseAmount.IsPositive() || !mr.QuoteAmount.IsPositive() {
		return invalid(CheckPrice, "match result amounts base=%s quote=%s cannot imply a price",
			mr.BaseAmount, mr.QuoteAmount)
	}
	t.price = mr.QuoteAmount.DivRound(mr.BaseAmount.Decimal, 18)
	if requested.Side == model.SideSell {
		t.gross = mr.QuoteAmount.Decimal
	} else {
		t.gross = mr.BaseAmount.Decimal
	}
	if err := checkRest(requested, t); err != nil {
		return err
	}
	return checkSettlementTx(bundle.SettlementTx)
}

func checkRest(requested model.ExternalOrder, t terms) error {
	if err := checkFees(t); err != nil {
		return err
	}
	if err := checkMinFill(requested, t); err != nil {
		return err
	}
	return checkWorstCasePrice(requested, t)
}

func checkMintPair(requested model.ExternalOrder, t terms) error {
	if !sameMint(t.baseMint, requested.BaseMint) || !sameMint(t.quoteMint, requested.QuoteMint) {
		return invalid(CheckMintPair, "pair %s/%s does not match requested %s/%s",
			t.baseMint, t.quoteMint, requested.BaseMint, requested.QuoteMint)
	}
	if !sameMint(t.send.Mint, requested.SendMint()) || !sameMint(t.receive.Mint, requested.ReceiveMint()) {
		return invalid(CheckMintPair, "transfers send %s receive %s do not fit a %s of %s",
			t.send.Mint, t.receive.Mint, requested.Side, requested.BaseMint)
	}
	return nil
}

func checkSide(requested model.ExternalOrder, t terms) error {
	if t.side != requested.Side {
		return invalid(CheckSide, "side %q does not match requested %q", t.side, requested.Side)
	}
	if t.direction != "" && t.direction != requested.Side {
		return invalid(CheckSide, "match direction %q does not match requested %q", t.direction, requested.Side)
	}
	return nil
}

func checkPositiveAmounts(t terms) error {
	if !t.receive.Amount.IsPositive() {
		return invalid(CheckPositiveAmounts, "receive amount %s is not positive", t.receive.Amount)
	}
	if !t.send.Amount.IsPositive() {
		return invalid(CheckPositiveAmounts, "send amount %s is not positive", t.send.Amount)
	}
	return nil
}

func checkFees(t terms) error {
	if t.fees.RelayerFee.IsNegative() || t.fees.ProtocolFee.IsNegative() {
		return invalid(CheckFees, "negative fee relayer=%s protocol=%s", t.fees.RelayerFee, t.fees.ProtocolFee)
	}
	total := t.fees.Total()
	if total.GreaterThan(t.gross) {
		return invalid(CheckFees, "total fees %s exceed gross proceeds %s", total, t.gross)
	}
	return nil
}

// checkMinFill compares the minimum fill against whichever transfer is
// denominated in the order's amount token.
func checkMinFill(requested model.ExternalOrder, t terms) error {
	if !requested.MinFillSize.IsPositive() {
		return nil
	}
	sellsAmountToken := requested.DenominatedInBase() == (requested.Side == model.SideSell)
	filled := t.receive.Amount
	if sellsAmountToken {
		filled = t.send.Amount
	}
	if filled.LessThan(requested.MinFillSize) {
		return invalid(CheckMinFillSize, "fill %s is below min fill size %s", filled, requested.MinFillSize)
	}
	return nil
}

func checkWorstCasePrice(requested model.ExternalOrder, t terms) error {
	if requested.WorstCasePrice == nil {
		return nil
	}
	limit := *requested.WorstCasePrice
	switch requested.Side {
	case model.SideBuy:
		if t.price.GreaterThan(limit) {
			return invalid(CheckWorstCasePrice, "price %s is above buy limit %s", t.price, limit)
		}
	case model.SideSell:
		if t.price.LessThan(limit) {
			return invalid(CheckWorstCasePrice, "price %s is below sell limit %s", t.price, limit)
		}
	}
	return nil
}

func checkSettlementTx(tx model.SettlementTx) error {
	if tx.To == nil || *tx.To == (common.Address{}) {
		return invalid(CheckSettlementTx, "settlement tx has no target address")
	}
	if len(tx.Calldata()) == 0 {
		return invalid(CheckSettlementTx, "settlement tx has no calldata")
	}
	return nil
}
