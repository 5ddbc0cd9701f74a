package darkpool

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

func requireCheck(t *testing.T, err error, want Check) {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected *ValidationError, got %T", err)
	assert.Equal(t, want, ve.Check)
}

func TestValidateQuote_ConcurrentCallersMatchSerial(t *testing.T) {
	order := sellWETHOrder()
	good := wethQuote()
	bad := wethQuote()
	bad.Fees.RelayerFee = amt(5000)

	wantBad := ValidateQuote(order, bad)
	require.NoError(t, ValidateQuote(order, good))
	requireCheck(t, wantBad, CheckFees)

	const workers = 32
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			if w%2 == 0 {
				errs[w] = ValidateQuote(order, good)
			} else {
				errs[w] = ValidateQuote(order, bad)
			}
		}(w)
	}
	wg.Wait()

	for w, err := range errs {
		if w%2 == 0 {
			assert.NoError(t, err, "worker %d", w)
			continue
		}
		assert.Equal(t, wantBad, err, "worker %d", w)
	}
}

// ─── End to end ───────────────────────────────────────────────────────────────

func TestValidateQuote_WETHSellPasses(t *testing.T) {
	require.NoError(t, ValidateQuote(sellWETHOrder(), wethQuote()))
}

func TestValidateQuote_ZeroReceiveFails(t *testing.T) {
	q := wethQuote()
	q.Receive.Amount = amt(0)
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckPositiveAmounts)
}

func TestValidateQuote_ZeroSendFails(t *testing.T) {
	q := wethQuote()
	q.Send.Amount = amt(0)
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckPositiveAmounts)
}

// ─── Mint pair ────────────────────────────────────────────────────────────────

func TestValidateQuote_MintCaseInsensitive(t *testing.T) {
	q := wethQuote()
	q.Order.BaseMint = strings.ToUpper(wethMint[2:])
	q.Order.BaseMint = "0x" + q.Order.BaseMint
	q.Send.Mint = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	require.NoError(t, ValidateQuote(sellWETHOrder(), q))
}

func TestValidateQuote_WrongPairFails(t *testing.T) {
	q := wethQuote()
	q.Order.QuoteMint = "0x0000000000000000000000000000000000000001"
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckMintPair)
}

func TestValidateQuote_SwappedTransfersFail(t *testing.T) {
	q := wethQuote()
	q.Send.Mint, q.Receive.Mint = q.Receive.Mint, q.Send.Mint
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckMintPair)
}

// ─── Side ─────────────────────────────────────────────────────────────────────

func TestValidateQuote_SideMismatchRejected(t *testing.T) {
	q := wethQuote()
	q.Order.Side = model.SideBuy
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckSide)
}

func TestValidateQuote_DirectionMismatchRejected(t *testing.T) {
	q := wethQuote()
	q.MatchResult.Direction = model.SideBuy
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckSide)
}

// ─── Fees ─────────────────────────────────────────────────────────────────────

func TestValidateQuote_FeesOverProceedsRejected(t *testing.T) {
	q := wethQuote()
	q.Fees = model.FeeTake{RelayerFee: amt(2000), ProtocolFee: amt(504)}
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckFees)
}

func TestValidateQuote_FeesEqualToProceedsPass(t *testing.T) {
	q := wethQuote()
	q.Fees = model.FeeTake{RelayerFee: amt(2000), ProtocolFee: amt(503)}
	require.NoError(t, ValidateQuote(sellWETHOrder(), q))
}

func TestValidateQuote_NegativeFeeRejected(t *testing.T) {
	q := wethQuote()
	q.Fees.ProtocolFee = amt(-1)
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckFees)
}

func TestValidateQuote_NonPositivePriceRejected(t *testing.T) {
	q := wethQuote()
	q.Price.Price = dec("0")
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckPrice)

	q.Price.Price = dec("-1")
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckPrice)
}

func TestValidateQuote_BuyGrossIsInBase(t *testing.T) {
	order := model.ExternalOrder{
		QuoteMint:   usdcMint,
		BaseMint:    wethMint,
		Side:        model.SideBuy,
		QuoteAmount: amt(5000),
	}
	q := model.Quote{
		Order:   order,
		Fees:    model.FeeTake{RelayerFee: amt(1)},
		Send:    model.AssetTransfer{Mint: usdcMint, Amount: amt(5000)},
		Receive: model.AssetTransfer{Mint: wethMint, Amount: amt(1)},
		Price:   model.TimestampedPrice{Price: dec("2500")},
	}
	// gross is 2 WETH, 1 unit of fees fits
	require.NoError(t, ValidateQuote(order, q))

	q.Fees.ProtocolFee = amt(2)
	requireCheck(t, ValidateQuote(order, q), CheckFees)
}

// ─── Min fill ─────────────────────────────────────────────────────────────────

func TestValidateQuote_MinFillBoundary(t *testing.T) {
	order := sellWETHOrder()
	order.BaseAmount = amt(10)
	order.MinFillSize = amt(5)

	q := wethQuote()
	q.Order = order
	q.Send.Amount = amt(5)
	require.NoError(t, ValidateQuote(order, q), "fill equal to min fill size passes")

	q.Send.Amount = amt(4)
	requireCheck(t, ValidateQuote(order, q), CheckMinFillSize)
}

func TestValidateQuote_MinFillUsesAmountToken(t *testing.T) {
	// quote denominated sell: the min fill applies to the USDC received
	order := sellWETHOrder()
	order.BaseAmount = amt(0)
	order.QuoteAmount = amt(2500)
	order.MinFillSize = amt(2500)

	q := wethQuote()
	q.Order = order
	require.NoError(t, ValidateQuote(order, q))

	q.Receive.Amount = amt(2499)
	requireCheck(t, ValidateQuote(order, q), CheckMinFillSize)
}

// ─── Worst case price ─────────────────────────────────────────────────────────

func TestValidateQuote_WorstCasePrice(t *testing.T) {
	order := sellWETHOrder()
	limit := dec("2503")
	order.WorstCasePrice = &limit

	q := wethQuote()
	q.Order = order
	require.NoError(t, ValidateQuote(order, q), "sell at the limit passes")

	higher := dec("2504")
	order.WorstCasePrice = &higher
	q.Order = order
	requireCheck(t, ValidateQuote(order, q), CheckWorstCasePrice)
}

func TestValidateQuote_BuyWorstCasePrice(t *testing.T) {
	limit := dec("2400")
	order := model.ExternalOrder{
		QuoteMint:      usdcMint,
		BaseMint:       wethMint,
		Side:           model.SideBuy,
		QuoteAmount:    amt(5000),
		WorstCasePrice: &limit,
	}
	q := model.Quote{
		Order:   order,
		Send:    model.AssetTransfer{Mint: usdcMint, Amount: amt(5000)},
		Receive: model.AssetTransfer{Mint: wethMint, Amount: amt(2)},
		Price:   model.TimestampedPrice{Price: dec("2500")},
	}
	requireCheck(t, ValidateQuote(order, q), CheckWorstCasePrice)
}

// ─── Check ordering ───────────────────────────────────────────────────────────

func TestValidateQuote_FirstFailingCheckWins(t *testing.T) {
	q := wethQuote()
	q.Order.Side = model.SideBuy
	q.Receive.Amount = amt(0)
	q.Fees.RelayerFee = amt(1_000_000)
	requireCheck(t, ValidateQuote(sellWETHOrder(), q), CheckSide)
}

// ─── Bundles ──────────────────────────────────────────────────────────────────

func TestValidateBundle_Passes(t *testing.T) {
	require.NoError(t, ValidateBundle(sellWETHOrder(), wethBundle()))
}

func TestValidateBundle_RequiresSettlementTarget(t *testing.T) {
	b := wethBundle()
	b.SettlementTx.To = nil
	requireCheck(t, ValidateBundle(sellWETHOrder(), b), CheckSettlementTx)
}

func TestValidateBundle_RequiresCalldata(t *testing.T) {
	b := wethBundle()
	b.SettlementTx.Input = nil
	requireCheck(t, ValidateBundle(sellWETHOrder(), b), CheckSettlementTx)

	b.SettlementTx.Data = []byte{0x01}
	require.NoError(t, ValidateBundle(sellWETHOrder(), b), "legacy data field is accepted")
}

func TestValidateBundle_FeesOverMatchProceeds(t *testing.T) {
	b := wethBundle()
	b.Fees.RelayerFee = amt(2504)
	requireCheck(t, ValidateBundle(sellWETHOrder(), b), CheckFees)
}

func TestValidateBundle_ZeroMatchAmountHasNoPrice(t *testing.T) {
	b := wethBundle()
	b.MatchResult.BaseAmount = amt(0)
	requireCheck(t, ValidateBundle(sellWETHOrder(), b), CheckPrice)
}

func TestValidateBundle_WrongDirection(t *testing.T) {
	b := wethBundle()
	b.MatchResult.Direction = model.SideBuy
	requireCheck(t, ValidateBundle(sellWETHOrder(), b), CheckSide)
}
