package model

import "github.com/shopspring/decimal"

// FeeTake is the fee owed by the external party, always paid in the receive token.
type FeeTake struct {
	RelayerFee  Amount `json:"relayer_fee"`
	ProtocolFee Amount `json:"protocol_fee"`
}

// Total is the sum of relayer and protocol fees.
func (f FeeTake) Total() Amount {
	return f.RelayerFee.Plus(f.ProtocolFee)
}

// AssetTransfer is a token movement to or from the external party.
type AssetTransfer struct {
	Mint   string `json:"mint"`
	Amount Amount `json:"amount"`
}

// MatchResult is the relayer's view of the matched pair and sizes.
type MatchResult struct {
	QuoteMint   string    `json:"quote_mint"`
	BaseMint    string    `json:"base_mint"`
	QuoteAmount Amount    `json:"quote_amount"`
	BaseAmount  Amount    `json:"base_amount"`
	Direction   OrderSide `json:"direction"`
}

// TimestampedPrice is a price in quote units per base unit. The relayer
// serializes the price as a string to avoid float rounding.
type TimestampedPrice struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp uint64          `json:"timestamp"`
}

// Quote is the relayer's proposed, non-binding match terms.
type Quote struct {
	Order       ExternalOrder    `json:"order"`
	MatchResult MatchResult      `json:"match_result"`
	Fees        FeeTake          `json:"fees"`
	Send        AssetTransfer    `json:"send"`
	Receive     AssetTransfer    `json:"receive"`
	Price       TimestampedPrice `json:"price"`
	Timestamp   uint64           `json:"timestamp"`
}

// SignedQuote is a quote with the auth server's signature, as it must be
// echoed back when assembling.
type SignedQuote struct {
	Quote     Quote  `json:"quote"`
	Signature string `json:"signature"`
	Deadline  uint64 `json:"deadline,omitempty"`
}

// GasSponsorshipInfo describes a gas refund granted by the relayer.
// In-kind refunds are paid in the receive token; native refunds in ETH.
type GasSponsorshipInfo struct {
	RefundAmount    Amount  `json:"refund_amount"`
	RefundNativeETH bool    `json:"refund_native_eth"`
	RefundAddress   *string `json:"refund_address,omitempty"`
}

// QuoteRequest is the body of a quote request.
type QuoteRequest struct {
	ExternalOrder ExternalOrder `json:"external_order"`
}

// QuoteResponse is the relayer's answer to a quote request.
type QuoteResponse struct {
	SignedQuote        SignedQuote         `json:"signed_quote"`
	GasSponsorshipInfo *GasSponsorshipInfo `json:"gas_sponsorship_info,omitempty"`
}

// InKindRefund returns the sponsorship refund paid in the receive token, or zero.
func (r QuoteResponse) InKindRefund() Amount {
	if r.GasSponsorshipInfo == nil || r.GasSponsorshipInfo.RefundNativeETH {
		return Amount{}
	}
	return r.GasSponsorshipInfo.RefundAmount
}
