package model

import "github.com/shopspring/decimal"

// Token is a token the relayer supports.
type Token struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// TokenPrice is a relayer reference price for a pair.
type TokenPrice struct {
	BaseToken  string          `json:"base_token"`
	QuoteToken string          `json:"quote_token"`
	Price      decimal.Decimal `json:"price"`
}

// FeeRates are the fee rates the relayer charges on a market.
type FeeRates struct {
	RelayerFeeRate  decimal.Decimal `json:"relayer_fee_rate"`
	ProtocolFeeRate decimal.Decimal `json:"protocol_fee_rate"`
}

// MarketInfo describes one tradable pair.
type MarketInfo struct {
	Base                  Token            `json:"base"`
	Quote                 Token            `json:"quote"`
	Price                 TimestampedPrice `json:"price"`
	InternalMatchFeeRates FeeRates         `json:"internal_match_fee_rates"`
	ExternalMatchFeeRates FeeRates         `json:"external_match_fee_rates"`
}

// DepthSide is the resting liquidity on one side of a market.
type DepthSide struct {
	TotalQuantity    Amount          `json:"total_quantity"`
	TotalQuantityUSD decimal.Decimal `json:"total_quantity_usd"`
}

// MarketDepth is the liquidity on both sides of a market.
type MarketDepth struct {
	Market MarketInfo `json:"market"`
	Buy    DepthSide  `json:"buy"`
	Sell   DepthSide  `json:"sell"`
}

// ExchangeMetadata describes the connected darkpool deployment.
type ExchangeMetadata struct {
	ChainID                   uint64  `json:"chain_id"`
	SettlementContractAddress string  `json:"settlement_contract_address"`
	SupportedTokens           []Token `json:"supported_tokens"`
}

type SupportedTokensResponse struct {
	Tokens []Token `json:"tokens"`
}

type TokenPricesResponse struct {
	TokenPrices []TokenPrice `json:"token_prices"`
}

type MarketsResponse struct {
	Markets []MarketInfo `json:"markets"`
}

type MarketDepthsResponse struct {
	MarketDepths []MarketDepth `json:"market_depths"`
}

type MarketDepthResponse struct {
	MarketDepth MarketDepth `json:"market_depth"`
}
