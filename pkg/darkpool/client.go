package darkpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/httpclient"
	"github.com/Checker-Finance/darkpool-adapter/internal/rate"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
	"github.com/Checker-Finance/darkpool-adapter/pkg/utils"
)

const (
	TestnetBaseURL = "https://testnet.auth-server.renegade.fi"
	MainnetBaseURL = "https://mainnet.auth-server.renegade.fi"
)

type clientConfig struct {
	httpClient *http.Client
	rateMgr    *rate.Manager
	retries    int
	logger     *zap.Logger
	sponsor    SponsorshipEncoding
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithHTTPClient sets the HTTP client used for relayer calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithRateManager throttles calls per api key and route.
func WithRateManager(m *rate.Manager) ClientOption {
	return func(c *clientConfig) { c.rateMgr = m }
}

// WithRetries sets how many times a network failure or 5xx is retried.
// Nothing is retried by default.
func WithRetries(n int) ClientOption {
	return func(c *clientConfig) { c.retries = n }
}

// WithSponsorshipEncoding sets how use_gas_sponsorship is written on every
// route that carries it. Defaults to SponsorshipParamInverted.
func WithSponsorshipEncoding(enc SponsorshipEncoding) ClientOption {
	return func(c *clientConfig) { c.sponsor = enc }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// Client talks to the relayer's external match API. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	auth    *Authenticator
	exec    *httpclient.Executor
	logger  *zap.Logger
	sponsor SponsorshipEncoding
}

// NewClient returns a client signing with cred against baseURL.
func NewClient(baseURL string, cred Credential, opts ...ClientOption) *Client {
	cfg := clientConfig{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    NewAuthenticator(cred),
		exec:    httpclient.New(cfg.logger, cfg.rateMgr, cfg.httpClient, cfg.retries, "relayer", nil),
		logger:  cfg.logger,
		sponsor: cfg.sponsor,
	}
}

// NewClientFromSecret decodes apiSecret and returns a client for baseURL.
func NewClientFromSecret(baseURL, apiKey, apiSecret string, opts ...ClientOption) (*Client, error) {
	cred, err := NewCredential(apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	return NewClient(baseURL, cred, opts...), nil
}

func NewTestnetClient(apiKey, apiSecret string, opts ...ClientOption) (*Client, error) {
	return NewClientFromSecret(TestnetBaseURL, apiKey, apiSecret, opts...)
}

func NewMainnetClient(apiKey, apiSecret string, opts ...ClientOption) (*Client, error) {
	return NewClientFromSecret(MainnetBaseURL, apiKey, apiSecret, opts...)
}

// Authenticator exposes the request signer, e.g. for a Stream on the same key.
func (c *Client) Authenticator() *Authenticator { return c.auth }

// RequestQuote asks the relayer for a quote on order. A nil response with a
// nil error means the relayer has no quote for the order right now.
func (c *Client) RequestQuote(ctx context.Context, order model.ExternalOrder, opts QuoteOptions) (*model.QuoteResponse, error) {
	var resp model.QuoteResponse
	found, err := c.do(ctx, http.MethodPost, opts.path(c.sponsor), model.QuoteRequest{ExternalOrder: order}, &resp)
	if err != nil || !found {
		return nil, err
	}
	c.logger.Info("relayer.quote.received",
		zap.String("base", order.BaseMint),
		zap.String("quote", order.QuoteMint),
		zap.String("side", string(order.Side)),
		zap.Bool("sponsored", resp.GasSponsorshipInfo != nil))
	return &resp, nil
}

// AssembleQuote turns a signed quote into a settlement bundle. A nil
// response with a nil error means the relayer could not assemble a match.
func (c *Client) AssembleQuote(ctx context.Context, quote model.SignedQuote, opts AssembleOptions) (*model.MatchResponse, error) {
	if opts.UpdatedOrder != nil {
		if err := checkUpdatedOrder(quote.Quote.Order, *opts.UpdatedOrder); err != nil {
			return nil, err
		}
	}
	var resp model.MatchResponse
	found, err := c.do(ctx, http.MethodPost, opts.path(c.sponsor), opts.request(quote), &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

// AssembleMalleableQuote assembles a signed quote into a bundle whose base
// amount can still be chosen within bounds.
func (c *Client) AssembleMalleableQuote(ctx context.Context, quote model.SignedQuote, opts MalleableAssembleOptions) (*model.MalleableMatchResponse, error) {
	if opts.UpdatedOrder != nil {
		if err := checkUpdatedOrder(quote.Quote.Order, *opts.UpdatedOrder); err != nil {
			return nil, err
		}
	}
	var resp model.MalleableMatchResponse
	found, err := c.do(ctx, http.MethodPost, opts.path(c.sponsor), opts.request(quote), &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

// RequestExternalMatch requests a bundle directly, without a quote.
//
// Deprecated: use RequestQuote followed by AssembleQuote.
func (c *Client) RequestExternalMatch(ctx context.Context, order model.ExternalOrder, opts ExternalMatchOptions) (*model.MatchResponse, error) {
	body := model.ExternalMatchRequest{
		DoGasEstimation: opts.DoGasEstimation,
		ExternalOrder:   order,
	}
	if opts.ReceiverAddress != "" {
		addr := opts.ReceiverAddress
		body.ReceiverAddress = &addr
	}
	var resp model.MatchResponse
	found, err := c.do(ctx, http.MethodPost, opts.path(c.sponsor), body, &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SupportedTokens(ctx context.Context) ([]model.Token, error) {
	var resp model.SupportedTokensResponse
	if _, err := c.do(ctx, http.MethodGet, RouteSupportedTokens, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

func (c *Client) TokenPrices(ctx context.Context) ([]model.TokenPrice, error) {
	var resp model.TokenPricesResponse
	if _, err := c.do(ctx, http.MethodGet, RouteTokenPrices, nil, &resp); err != nil {
		return nil, err
	}
	return resp.TokenPrices, nil
}

func (c *Client) Markets(ctx context.Context) ([]model.MarketInfo, error) {
	var resp model.MarketsResponse
	if _, err := c.do(ctx, http.MethodGet, RouteMarkets, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Markets, nil
}

func (c *Client) MarketDepths(ctx context.Context) ([]model.MarketDepth, error) {
	var resp model.MarketDepthsResponse
	if _, err := c.do(ctx, http.MethodGet, RouteMarketDepths, nil, &resp); err != nil {
		return nil, err
	}
	return resp.MarketDepths, nil
}

// MarketDepth returns the depth of the market for base mint, or nil if the
// relayer reports no such market.
func (c *Client) MarketDepth(ctx context.Context, mint string) (*model.MarketDepth, error) {
	norm, err := NormalizeMint(mint)
	if err != nil {
		return nil, err
	}
	var resp model.MarketDepthResponse
	found, err := c.do(ctx, http.MethodGet, marketDepthPath(norm), nil, &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp.MarketDepth, nil
}

func (c *Client) ExchangeMetadata(ctx context.Context) (*model.ExchangeMetadata, error) {
	var resp model.ExchangeMetadata
	found, err := c.do(ctx, http.MethodGet, RouteExchangeMetadata, nil, &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

// do signs and sends one relayer call. found is false on 204 No Content.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (bool, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return false, fmt.Errorf("encode %s request: %w", path, err)
		}
	}

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.auth.SignRequest(req, payload)
		return req, nil
	}

	route := path
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}

	status, err := c.exec.DoJSON(ctx, build, c.auth.APIKey()+"|"+route, out)
	if err != nil {
		return false, c.mapError(method, route, err)
	}
	if status == http.StatusNoContent {
		c.logger.Debug("relayer.no_content",
			zap.String("route", route),
			zap.String("api_key", utils.MaskKey(c.auth.APIKey())))
		return false, nil
	}
	return true, nil
}

func (c *Client) mapError(method, route string, err error) error {
	te := &TransportError{Method: method, Path: route, Err: err}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		te.Status = se.Status
		te.Body = string(se.Body)
	}
	if te.Status == http.StatusUnauthorized || te.Status == http.StatusForbidden {
		c.logger.Warn("relayer.auth_rejected",
			zap.String("route", route),
			zap.Int("status", te.Status),
			zap.String("api_key", utils.MaskKey(c.auth.APIKey())))
		return &AuthError{Reason: "relayer rejected credentials", Err: te}
	}
	return te
}
