package darkpool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

const (
	wethMint = "0x82af49447d8a07e3bd95bd0d56f35241523fbab1"
	usdcMint = "0xaf88d065e77c8cc2239327c5edb3a432268e5831"
)

var settlementContract = common.HexToAddress("0x30bd8eab29181f790d7e495786d4b96d7afdc518")

func amt(v int64) model.Amount { return model.NewAmount(v) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// sellWETHOrder sells 1 WETH (base) for USDC.
func sellWETHOrder() model.ExternalOrder {
	return model.ExternalOrder{
		QuoteMint:  usdcMint,
		BaseMint:   wethMint,
		Side:       model.SideSell,
		BaseAmount: amt(1),
	}
}

// wethQuote is the relayer's answer to sellWETHOrder: send 1 WETH, receive
// 2500 USDC net of 2+1 fees at a price of 2503.
func wethQuote() model.Quote {
	return model.Quote{
		Order: sellWETHOrder(),
		MatchResult: model.MatchResult{
			QuoteMint:   usdcMint,
			BaseMint:    wethMint,
			QuoteAmount: amt(2503),
			BaseAmount:  amt(1),
			Direction:   model.SideSell,
		},
		Fees:    model.FeeTake{RelayerFee: amt(2), ProtocolFee: amt(1)},
		Send:    model.AssetTransfer{Mint: wethMint, Amount: amt(1)},
		Receive: model.AssetTransfer{Mint: usdcMint, Amount: amt(2500)},
		Price:   model.TimestampedPrice{Price: dec("2503"), Timestamp: 1_700_000_000_000},
	}
}

func wethBundle() model.Bundle {
	q := wethQuote()
	to := settlementContract
	return model.Bundle{
		MatchResult: q.MatchResult,
		Fees:        q.Fees,
		Receive:     q.Receive,
		Send:        q.Send,
		SettlementTx: model.SettlementTx{
			To:    &to,
			Input: []byte{0xde, 0xad, 0xbe, 0xef},
		},
	}
}
