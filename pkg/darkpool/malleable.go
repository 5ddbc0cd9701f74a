package darkpool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

const (
	// uint256 argument offsets in the settlement calldata.
	gasSponsorQuoteAmountOffset = 4
	gasSponsorBaseAmountOffset  = gasSponsorQuoteAmountOffset + amountCalldataLength
	connectorInputAmountOffset  = 4
	amountCalldataLength        = 32
)

// ErrAmountOutOfBounds is returned when a chosen amount is outside the
// bounds of a malleable match.
var ErrAmountOutOfBounds = errors.New("amount outside malleable match bounds")

// MalleableMatch is a malleable bundle whose base amount is chosen by the
// caller before settlement. Setting an amount rewrites the settlement
// calldata in place. Not safe for concurrent use.
type MalleableMatch struct {
	resp        model.MalleableMatchResponse
	connector   bool
	baseAmount  *model.Amount
	quoteAmount *model.Amount
}

// NewMalleableMatch wraps resp. connector must match the
// MalleableAssembleOptions.UseConnector the bundle was assembled with.
func NewMalleableMatch(resp model.MalleableMatchResponse, connector bool) *MalleableMatch {
	return &MalleableMatch{resp: resp, connector: connector}
}

// SettlementTx returns the transaction at the currently chosen amount.
func (m *MalleableMatch) SettlementTx() model.SettlementTx {
	return m.resp.MatchBundle.SettlementTx
}

// SellsBase reports whether the external party sells the base token.
func (m *MalleableMatch) SellsBase() bool {
	return m.resp.MatchBundle.MatchResult.Direction == model.SideSell
}

// BaseBounds returns the inclusive base amount range.
func (m *MalleableMatch) BaseBounds() (model.Amount, model.Amount) {
	mr := m.resp.MatchBundle.MatchResult
	return mr.MinBaseAmount, mr.MaxBaseAmount
}

// QuoteBounds returns the inclusive quote amount range implied by the base
// bounds at the match price.
func (m *MalleableMatch) QuoteBounds() (model.Amount, model.Amount) {
	minBase, maxBase := m.BaseBounds()
	return m.quoteAt(minBase), m.quoteAt(maxBase)
}

// QuoteBoundsForBase returns the quote range acceptable at base: a buyer may
// pay more than the reference quote, a seller may accept less.
func (m *MalleableMatch) QuoteBoundsForBase(base model.Amount) (model.Amount, model.Amount) {
	minQuote, maxQuote := m.QuoteBounds()
	ref := m.quoteAt(base)
	if m.SellsBase() {
		return minQuote, ref
	}
	return ref, maxQuote
}

// BaseAmount returns the chosen base amount, defaulting to the maximum.
func (m *MalleableMatch) BaseAmount() model.Amount {
	if m.baseAmount != nil {
		return *m.baseAmount
	}
	return m.resp.MatchBundle.MatchResult.MaxBaseAmount
}

// QuoteAmount returns the chosen quote amount, or the quote implied by BaseAmount.
func (m *MalleableMatch) QuoteAmount() model.Amount {
	if m.quoteAmount != nil {
		return *m.quoteAmount
	}
	return m.quoteAt(m.BaseAmount())
}

func (m *MalleableMatch) ReceiveAmount() model.Amount {
	return m.ReceiveAmountAtBase(m.BaseAmount())
}

// ReceiveAmountAtBase is the amount received at base, net of fees and
// including any in-kind gas refund.
func (m *MalleableMatch) ReceiveAmountAtBase(base model.Amount) model.Amount {
	gross := base
	if m.SellsBase() {
		gross = m.quoteAt(base)
	}
	fee := m.resp.MatchBundle.FeeRates.Total().FloorMulInt(gross)
	net := model.Amount{Decimal: gross.Sub(fee.Decimal)}
	if info := m.resp.GasSponsorshipInfo; info != nil && !info.RefundNativeETH {
		net = net.Plus(info.RefundAmount)
	}
	return net
}

func (m *MalleableMatch) ReceiveAmountAtQuote(quote model.Amount) model.Amount {
	return m.ReceiveAmountAtBase(m.baseAt(quote))
}

func (m *MalleableMatch) SendAmount() model.Amount {
	return m.SendAmountAtBase(m.BaseAmount())
}

func (m *MalleableMatch) SendAmountAtBase(base model.Amount) model.Amount {
	if m.SellsBase() {
		return base
	}
	return m.quoteAt(base)
}

func (m *MalleableMatch) SendAmountAtQuote(quote model.Amount) model.Amount {
	return m.SendAmountAtBase(m.baseAt(quote))
}

// SetBaseAmount chooses the base amount, rewrites the calldata and returns
// the resulting receive amount.
func (m *MalleableMatch) SetBaseAmount(base model.Amount) (model.Amount, error) {
	minBase, maxBase := m.BaseBounds()
	if base.LessThan(minBase) || maxBase.LessThan(base) {
		return model.Amount{}, fmt.Errorf("%w: base %s not in [%s, %s]", ErrAmountOutOfBounds, base, minBase, maxBase)
	}
	quote := m.quoteAt(base)
	if err := m.writeAmounts(base, quote); err != nil {
		return model.Amount{}, err
	}
	return m.ReceiveAmount(), nil
}

// SetQuoteAmount chooses the quote amount; the base amount is the smallest
// one that covers it at the match price.
func (m *MalleableMatch) SetQuoteAmount(quote model.Amount) (model.Amount, error) {
	base := m.baseAt(quote)
	minQuote, maxQuote := m.QuoteBoundsForBase(base)
	if quote.LessThan(minQuote) || maxQuote.LessThan(quote) {
		return model.Amount{}, fmt.Errorf("%w: quote %s not in [%s, %s]", ErrAmountOutOfBounds, quote, minQuote, maxQuote)
	}
	if err := m.writeAmounts(base, quote); err != nil {
		return model.Amount{}, err
	}
	return m.ReceiveAmount(), nil
}

// SetInputAmount sets the amount of the token the external party sends.
func (m *MalleableMatch) SetInputAmount(amount model.Amount) (model.Amount, error) {
	if m.SellsBase() {
		return m.SetBaseAmount(amount)
	}
	return m.SetQuoteAmount(amount)
}

func (m *MalleableMatch) quoteAt(base model.Amount) model.Amount {
	return m.resp.MatchBundle.MatchResult.PriceFP.FloorMulInt(base)
}

func (m *MalleableMatch) baseAt(quote model.Amount) model.Amount {
	return m.resp.MatchBundle.MatchResult.PriceFP.CeilDivInt(quote)
}

func (m *MalleableMatch) writeAmounts(base, quote model.Amount) error {
	tx := &m.resp.MatchBundle.SettlementTx
	data := append([]byte(nil), tx.Calldata()...)

	if m.connector {
		// The connector ABI only carries the input amount.
		input := quote
		if m.SellsBase() {
			input = base
		}
		if err := putUint256(data, connectorInputAmountOffset, input); err != nil {
			return err
		}
	} else {
		if err := putUint256(data, gasSponsorQuoteAmountOffset, quote); err != nil {
			return err
		}
		if err := putUint256(data, gasSponsorBaseAmountOffset, base); err != nil {
			return err
		}
	}
	tx.SetCalldata(data)

	if m.isNativeETHSell() {
		tx.Value = (*hexutil.Big)(base.BigInt())
	}
	m.baseAmount, m.quoteAmount = &base, &quote
	return nil
}

func (m *MalleableMatch) isNativeETHSell() bool {
	mr := m.resp.MatchBundle.MatchResult
	return m.SellsBase() && sameMint(mr.BaseMint, NativeETHMint)
}

func putUint256(data []byte, offset int, amount model.Amount) error {
	if len(data) < offset+amountCalldataLength {
		return fmt.Errorf("settlement calldata too short: %d bytes", len(data))
	}
	copy(data[offset:offset+amountCalldataLength], math.U256Bytes(amount.BigInt()))
	return nil
}

// ValidateMalleableBundle checks a malleable bundle against the requested
// order: pair, side, non-empty bounds, the worst-case price at the match
// price and the settlement transaction.
func ValidateMalleableBundle(requested model.ExternalOrder, bundle model.MalleableBundle) error {
	mr := bundle.MatchResult
	if !sameMint(mr.BaseMint, requested.BaseMint) || !sameMint(mr.QuoteMint, requested.QuoteMint) {
		return invalid(CheckMintPair, "pair %s/%s does not match requested %s/%s",
			mr.BaseMint, mr.QuoteMint, requested.BaseMint, requested.QuoteMint)
	}
	if mr.Direction != requested.Side {
		return invalid(CheckSide, "direction %q does not match requested %q", mr.Direction, requested.Side)
	}
	if !mr.MinBaseAmount.IsPositive() || mr.MaxBaseAmount.LessThan(mr.MinBaseAmount) {
		return invalid(CheckPositiveAmounts, "base bounds [%s, %s] are empty", mr.MinBaseAmount, mr.MaxBaseAmount)
	}
	if !mr.PriceFP.Repr.IsPositive() {
		return invalid(CheckPrice, "match price is not positive")
	}
	t := terms{price: mr.PriceFP.Decimal()}
	if err := checkWorstCasePrice(requested, t); err != nil {
		return err
	}
	return checkSettlementTx(bundle.SettlementTx)
}
