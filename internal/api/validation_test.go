package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

func TestQuoteCreateRequest_Validate(t *testing.T) {
	valid := QuoteCreateRequest{ClientID: "c", BaseMint: wethMint, QuoteMint: usdcMint, Side: "BUY", QuoteAmount: "2500"}
	require.NoError(t, valid.Validate())

	noAmount := valid
	noAmount.QuoteAmount = ""
	assert.ErrorContains(t, noAmount.Validate(), "exactly one of")

	noQuoteMint := valid
	noQuoteMint.QuoteMint = " "
	assert.ErrorContains(t, noQuoteMint.Validate(), "quoteMint is required")
}

func TestQuoteCreateRequest_OrderParams(t *testing.T) {
	req := QuoteCreateRequest{ClientID: "c", BaseMint: wethMint, QuoteMint: usdcMint, Side: "buy", QuoteAmount: "2500", MinFillSize: "100"}
	p, err := req.OrderParams()
	require.NoError(t, err)
	assert.Equal(t, model.SideBuy, p.Side)
	assert.True(t, p.BaseAmount.IsZero())
	assert.Equal(t, "2500", p.QuoteAmount.String())
	assert.Equal(t, "100", p.MinFillSize.String())
	assert.Nil(t, p.WorstCasePrice)

	req.MinFillSize = "-1"
	_, err = req.OrderParams()
	assert.ErrorContains(t, err, "minFillSize must not be negative")
}

func TestAssembleRequest_Resize(t *testing.T) {
	order := model.ExternalOrder{BaseMint: wethMint, QuoteMint: usdcMint, Side: model.SideSell, BaseAmount: model.NewAmount(1000), MinFillSize: model.NewAmount(10)}

	p, err := AssembleRequest{QuoteAmount: "2500"}.resize(order)
	require.NoError(t, err)
	assert.True(t, p.BaseAmount.IsZero(), "switching denomination clears the base amount")
	assert.Equal(t, "2500", p.QuoteAmount.String())
	assert.Equal(t, "10", p.MinFillSize.String())
	assert.Equal(t, model.SideSell, p.Side)

	_, err = AssembleRequest{BaseAmount: "1", QuoteAmount: "2"}.resize(order)
	assert.Error(t, err)

	assert.False(t, AssembleRequest{ReceiverAddress: "0x1"}.resizes())
	assert.True(t, AssembleRequest{MinFillSize: "5"}.resizes())
}
