package api

import (
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// QuoteCreateRequest is the payload to start a match flow. Amounts are
// integer strings in the token's smallest unit; exactly one of baseAmount
// and quoteAmount is set.
type QuoteCreateRequest struct {
	ClientID       string `json:"clientId" example:"client-demo-01"`
	BaseMint       string `json:"baseMint" example:"0x82af49447d8a07e3bd95bd0d56f35241523fbab1"`
	QuoteMint      string `json:"quoteMint" example:"0xaf88d065e77c8cc2239327c5edb3a432268e5831"`
	Side           string `json:"side" example:"sell"`
	BaseAmount     string `json:"baseAmount,omitempty" example:"1000000000000000000"`
	QuoteAmount    string `json:"quoteAmount,omitempty"`
	MinFillSize    string `json:"minFillSize,omitempty"`
	WorstCasePrice string `json:"worstCasePrice,omitempty" example:"2400.5"`
}

// AssembleRequest optionally resizes the quoted order before assembly.
type AssembleRequest struct {
	BaseAmount      string `json:"baseAmount,omitempty"`
	QuoteAmount     string `json:"quoteAmount,omitempty"`
	MinFillSize     string `json:"minFillSize,omitempty"`
	ReceiverAddress string `json:"receiverAddress,omitempty"`
	AllowShared     bool   `json:"allowShared,omitempty"`
}

func (r AssembleRequest) resizes() bool {
	return r.BaseAmount != "" || r.QuoteAmount != "" || r.MinFillSize != ""
}

// FlowResponse wraps a flow record, with the failure when there was one.
type FlowResponse struct {
	Flow     *model.FlowRecord `json:"flow,omitempty"`
	ErrorMsg string            `json:"error,omitempty"`
	Check    string            `json:"check,omitempty"`
}

// MarketsResponse lists the tradable pairs.
type MarketsResponse struct {
	Markets []model.MarketInfo `json:"markets"`
}
