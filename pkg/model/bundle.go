package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SettlementTx is the transaction request the relayer hands back for on-chain
// settlement, in the JSON-RPC transaction request encoding.
type SettlementTx struct {
	Type                 *hexutil.Uint64 `json:"type,omitempty"`
	From                 *common.Address `json:"from,omitempty"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
	Input                hexutil.Bytes   `json:"input,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
}

// Calldata returns the transaction input, preferring "input" over the legacy "data" key.
func (t SettlementTx) Calldata() []byte {
	if len(t.Input) > 0 {
		return t.Input
	}
	return t.Data
}

// SetCalldata replaces the transaction input.
func (t *SettlementTx) SetCalldata(b []byte) {
	t.Input = b
	t.Data = nil
}

// Bundle is a match plus the transaction needed to settle it.
type Bundle struct {
	MatchResult  MatchResult   `json:"match_result"`
	Fees         FeeTake       `json:"fees"`
	Receive      AssetTransfer `json:"receive"`
	Send         AssetTransfer `json:"send"`
	SettlementTx SettlementTx  `json:"settlement_tx"`
	Deadline     uint64        `json:"deadline,omitempty"`
}

// MatchResponse is the relayer's answer to an assemble or direct match request.
type MatchResponse struct {
	MatchBundle        Bundle              `json:"match_bundle"`
	GasSponsored       bool                `json:"is_sponsored"`
	GasSponsorshipInfo *GasSponsorshipInfo `json:"gas_sponsorship_info,omitempty"`
}

// AssembleRequest asks the relayer to turn a signed quote into a bundle.
type AssembleRequest struct {
	DoGasEstimation bool           `json:"do_gas_estimation"`
	AllowShared     bool           `json:"allow_shared"`
	ReceiverAddress *string        `json:"receiver_address,omitempty"`
	UpdatedOrder    *ExternalOrder `json:"updated_order,omitempty"`
	SignedQuote     SignedQuote    `json:"signed_quote"`
}

// ExternalMatchRequest is the body of a direct (quote-less) match request.
type ExternalMatchRequest struct {
	DoGasEstimation bool          `json:"do_gas_estimation"`
	ReceiverAddress *string       `json:"receiver_address,omitempty"`
	ExternalOrder   ExternalOrder `json:"external_order"`
}

// BoundedMatchResult is a match whose base amount may be chosen within
// [MinBaseAmount, MaxBaseAmount] until submission.
type BoundedMatchResult struct {
	QuoteMint     string     `json:"quote_mint"`
	BaseMint      string     `json:"base_mint"`
	PriceFP       FixedPoint `json:"price_fp"`
	MinBaseAmount Amount     `json:"min_base_amount"`
	MaxBaseAmount Amount     `json:"max_base_amount"`
	Direction     OrderSide  `json:"direction"`
}

// FeeTakeRate is the relayer and protocol fee expressed as rates.
type FeeTakeRate struct {
	RelayerFeeRate  FixedPoint `json:"relayer_fee_rate"`
	ProtocolFeeRate FixedPoint `json:"protocol_fee_rate"`
}

// Total is the combined fee rate.
func (r FeeTakeRate) Total() FixedPoint {
	return FixedPoint{Repr: r.RelayerFeeRate.Repr.Add(r.ProtocolFeeRate.Repr)}
}

// MalleableBundle is a settlement bundle over a bounded match result.
type MalleableBundle struct {
	MatchResult  BoundedMatchResult `json:"match_result"`
	FeeRates     FeeTakeRate        `json:"fee_rates"`
	MaxReceive   AssetTransfer      `json:"max_receive"`
	MinReceive   AssetTransfer      `json:"min_receive"`
	MaxSend      AssetTransfer      `json:"max_send"`
	MinSend      AssetTransfer      `json:"min_send"`
	SettlementTx SettlementTx       `json:"settlement_tx"`
}

// MalleableMatchResponse is the relayer's answer to a malleable assemble request.
type MalleableMatchResponse struct {
	MatchBundle        MalleableBundle     `json:"match_bundle"`
	GasSponsorshipInfo *GasSponsorshipInfo `json:"gas_sponsorship_info,omitempty"`
}
