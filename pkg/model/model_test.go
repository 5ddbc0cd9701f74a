package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Amount ───────────────────────────────────────────────────────────────────

func TestAmount_U128RoundTripsAsBareNumber(t *testing.T) {
	const big = "340282366920938463463374607431768211455" // u128 max
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(big), &a))
	assert.Equal(t, big, a.String())

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, big, string(out))
}

func TestAmount_AcceptsQuotedAndNull(t *testing.T) {
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"1500"`), &a))
	assert.Equal(t, "1500", a.String())

	require.NoError(t, json.Unmarshal([]byte(`null`), &a))
	assert.True(t, a.IsZero())
}

func TestAmountFromString(t *testing.T) {
	a, err := AmountFromString(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, "42", a.String())

	_, err = AmountFromString("1.5")
	assert.Error(t, err)
	_, err = AmountFromString("abc")
	assert.Error(t, err)

	assert.Panics(t, func() { MustAmount("x") })
	assert.True(t, NewAmount(1).Plus(NewAmount(2)).Equal(decimal.NewFromInt(3)))
	assert.True(t, NewAmount(1).LessThan(NewAmount(2)))
}

// ─── Side ─────────────────────────────────────────────────────────────────────

func TestOrderSide_JSON(t *testing.T) {
	for _, in := range []string{`"buy"`, `"Buy"`, `"BUY"`} {
		var s OrderSide
		require.NoError(t, json.Unmarshal([]byte(in), &s))
		assert.Equal(t, SideBuy, s)
	}

	var s OrderSide
	assert.Error(t, json.Unmarshal([]byte(`"hold"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`1`), &s))

	out, err := json.Marshal(SideSell)
	require.NoError(t, err)
	assert.Equal(t, `"Sell"`, string(out))
	assert.Equal(t, SideBuy, SideSell.Opposite())
}

func TestExternalOrder_Mints(t *testing.T) {
	o := ExternalOrder{BaseMint: "base", QuoteMint: "quote", Side: SideSell, QuoteAmount: NewAmount(5)}
	assert.Equal(t, "base", o.SendMint())
	assert.Equal(t, "quote", o.ReceiveMint())
	assert.False(t, o.DenominatedInBase())
	assert.Equal(t, "5", o.Size().String())

	o.Side = SideBuy
	assert.Equal(t, "quote", o.SendMint())
	assert.Equal(t, "base", o.ReceiveMint())
}

// ─── Fixed point ──────────────────────────────────────────────────────────────

func TestFixedPoint_Arithmetic(t *testing.T) {
	price := FixedPointFromDecimal(decimal.RequireFromString("2.5"))
	assert.True(t, price.Decimal().Equal(decimal.RequireFromString("2.5")))

	assert.Equal(t, "7", price.FloorMulInt(NewAmount(3)).String())
	assert.Equal(t, "2", price.CeilDivInt(NewAmount(5)).String())
	assert.Equal(t, "3", price.CeilDivInt(NewAmount(6)).String())
	assert.True(t, FixedPoint{}.CeilDivInt(NewAmount(6)).IsZero())
}

func TestFixedPoint_JSONForms(t *testing.T) {
	want := FixedPointFromDecimal(decimal.NewFromInt(2))
	for _, in := range []string{
		`{"value":18446744073709551616}`,
		`18446744073709551616`,
		`"18446744073709551616"`,
	} {
		var f FixedPoint
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.True(t, f.Repr.Equal(want.Repr), in)
	}

	out, err := json.Marshal(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":18446744073709551616}`, string(out))
}

func TestFeeTakeRate_Total(t *testing.T) {
	r := FeeTakeRate{
		RelayerFeeRate:  FixedPointFromDecimal(decimal.RequireFromString("0.5")),
		ProtocolFeeRate: FixedPointFromDecimal(decimal.RequireFromString("0.25")),
	}
	assert.Equal(t, "75", r.Total().FloorMulInt(NewAmount(100)).String())
}

// ─── Settlement tx ────────────────────────────────────────────────────────────

func TestSettlementTx_Calldata(t *testing.T) {
	var tx SettlementTx
	require.NoError(t, json.Unmarshal([]byte(`{"to":"0x30bd8eab29181f790d7e495786d4b96d7afdc518","data":"0x0102"}`), &tx))
	assert.Equal(t, []byte{1, 2}, tx.Calldata())

	tx.SetCalldata([]byte{3})
	assert.Equal(t, []byte{3}, tx.Calldata())
	assert.Nil(t, tx.Data)
}

func TestQuoteResponse_InKindRefund(t *testing.T) {
	r := QuoteResponse{}
	assert.True(t, r.InKindRefund().IsZero())

	r.GasSponsorshipInfo = &GasSponsorshipInfo{RefundAmount: NewAmount(9)}
	assert.Equal(t, "9", r.InKindRefund().String())

	r.GasSponsorshipInfo.RefundNativeETH = true
	assert.True(t, r.InKindRefund().IsZero())
}

func TestFlowState_Terminal(t *testing.T) {
	assert.True(t, FlowSettled.Terminal())
	assert.True(t, FlowRejected.Terminal())
	assert.True(t, FlowExpired.Terminal())
	assert.False(t, FlowAssembled.Terminal())
}
