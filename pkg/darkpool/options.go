package darkpool

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

const (
	RouteQuote              = "/v0/matching-engine/quote"
	RouteAssemble           = "/v0/matching-engine/assemble-external-match"
	RouteAssembleMalleable  = "/v0/matching-engine/assemble-malleable-external-match"
	RouteExternalMatch      = "/v0/matching-engine/request-external-match"
	RouteSupportedTokens    = "/v0/supported-tokens"
	RouteTokenPrices        = "/v0/token-prices"
	RouteMarkets            = "/v0/markets"
	RouteMarketDepths       = "/v0/markets/depth"
	RouteMarketDepthPattern = "/v0/markets/:mint/depth"
	RouteExchangeMetadata   = "/v0/exchange-metadata"

	ParamGasSponsorship  = "use_gas_sponsorship"
	ParamRefundAddress   = "refund_address"
	ParamRefundNativeETH = "refund_native_eth"
	ParamUseConnector    = "use_connector"
)

// SponsorshipEncoding selects how the use_gas_sponsorship query value is
// written. Relayers have shipped both polarities under the same name.
type SponsorshipEncoding int

const (
	// SponsorshipParamInverted writes the disable flag: "false" requests
	// sponsorship. This is what deployed relayers read.
	SponsorshipParamInverted SponsorshipEncoding = iota
	// SponsorshipParamLiteral writes "true" to request sponsorship.
	SponsorshipParamLiteral
)

// ParseSponsorshipEncoding accepts "inverted" or "literal".
func ParseSponsorshipEncoding(s string) (SponsorshipEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inverted":
		return SponsorshipParamInverted, nil
	case "literal":
		return SponsorshipParamLiteral, nil
	default:
		return SponsorshipParamInverted, fmt.Errorf("unknown gas sponsorship encoding %q", s)
	}
}

func (e SponsorshipEncoding) String() string {
	if e == SponsorshipParamLiteral {
		return "literal"
	}
	return "inverted"
}

func (e SponsorshipEncoding) value(sponsor bool) string {
	if e == SponsorshipParamLiteral {
		return strconv.FormatBool(sponsor)
	}
	return strconv.FormatBool(!sponsor)
}

func withQuery(route string, q url.Values) string {
	if enc := q.Encode(); enc != "" {
		return route + "?" + enc
	}
	return route
}

// QuoteOptions control gas sponsorship for a quote request. The zero value
// requests sponsorship with an in-kind refund to tx.origin.
type QuoteOptions struct {
	DisableGasSponsorship bool
	GasRefundAddress      string
	RefundNativeETH       bool
}

func (o QuoteOptions) path(enc SponsorshipEncoding) string {
	q := url.Values{}
	q.Set(ParamGasSponsorship, enc.value(!o.DisableGasSponsorship))
	q.Set(ParamRefundNativeETH, strconv.FormatBool(o.RefundNativeETH))
	if o.GasRefundAddress != "" {
		q.Set(ParamRefundAddress, o.GasRefundAddress)
	}
	return withQuery(RouteQuote, q)
}

// AssembleOptions control how a signed quote is assembled into a bundle.
type AssembleOptions struct {
	DoGasEstimation bool
	// AllowShared permits the relayer to hand the same liquidity to other
	// takers; shared bundles are more likely to revert.
	AllowShared     bool
	ReceiverAddress string
	// UpdatedOrder may change the size of the quoted order but not its
	// pair or side.
	UpdatedOrder *model.ExternalOrder

	// Deprecated: request sponsorship on the quote instead. Only sent when set.
	RequestGasSponsorship bool
	// Deprecated: set on the quote instead. Only sent when non-empty.
	GasRefundAddress string
}

func (o AssembleOptions) query(enc SponsorshipEncoding) url.Values {
	q := url.Values{}
	if o.RequestGasSponsorship {
		q.Set(ParamGasSponsorship, enc.value(true))
	}
	if o.GasRefundAddress != "" {
		q.Set(ParamRefundAddress, o.GasRefundAddress)
	}
	return q
}

func (o AssembleOptions) path(enc SponsorshipEncoding) string {
	return withQuery(RouteAssemble, o.query(enc))
}

func (o AssembleOptions) request(quote model.SignedQuote) model.AssembleRequest {
	req := model.AssembleRequest{
		DoGasEstimation: o.DoGasEstimation,
		AllowShared:     o.AllowShared,
		UpdatedOrder:    o.UpdatedOrder,
		SignedQuote:     quote,
	}
	if o.ReceiverAddress != "" {
		addr := o.ReceiverAddress
		req.ReceiverAddress = &addr
	}
	return req
}

// MalleableAssembleOptions are AssembleOptions for a malleable bundle.
type MalleableAssembleOptions struct {
	AssembleOptions
	// UseConnector routes settlement through the connector contract.
	UseConnector bool
}

func (o MalleableAssembleOptions) path(enc SponsorshipEncoding) string {
	q := o.query(enc)
	if o.UseConnector {
		q.Set(ParamUseConnector, "true")
	}
	return withQuery(RouteAssembleMalleable, q)
}

// ExternalMatchOptions configure the deprecated direct match request.
type ExternalMatchOptions struct {
	DoGasEstimation  bool
	SponsorGas       bool
	GasRefundAddress string
	ReceiverAddress  string
}

func (o ExternalMatchOptions) path(enc SponsorshipEncoding) string {
	q := url.Values{}
	q.Set(ParamGasSponsorship, enc.value(o.SponsorGas))
	if o.GasRefundAddress != "" {
		q.Set(ParamRefundAddress, o.GasRefundAddress)
	}
	return withQuery(RouteExternalMatch, q)
}

func marketDepthPath(mint string) string {
	return strings.Replace(RouteMarketDepthPattern, ":mint", url.PathEscape(mint), 1)
}
