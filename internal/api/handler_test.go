package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/service"
	"github.com/Checker-Finance/darkpool-adapter/internal/store"
	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

const (
	wethMint = "0x82af49447d8a07e3bd95bd0d56f35241523fbab1"
	usdcMint = "0xaf88d065e77c8cc2239327c5edb3a432268e5831"
)

// --- Mock Service ---

type mockService struct {
	requestQuoteFn func(ctx context.Context, clientID string, p darkpool.OrderParams) (*model.FlowRecord, error)
	requoteFn      func(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error)
	assembleFn     func(ctx context.Context, id uuid.UUID, p service.AssembleParams) (*model.FlowRecord, error)
	submitFn       func(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error)
	getFlowFn      func(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error)
	marketsFn      func(ctx context.Context, clientID string) ([]model.MarketInfo, error)
}

func (m *mockService) RequestQuote(ctx context.Context, clientID string, p darkpool.OrderParams) (*model.FlowRecord, error) {
	if m.requestQuoteFn != nil {
		return m.requestQuoteFn(ctx, clientID, p)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) Requote(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error) {
	if m.requoteFn != nil {
		return m.requoteFn(ctx, id)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) Assemble(ctx context.Context, id uuid.UUID, p service.AssembleParams) (*model.FlowRecord, error) {
	if m.assembleFn != nil {
		return m.assembleFn(ctx, id, p)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) Submit(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, id)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) GetFlow(ctx context.Context, id uuid.UUID) (*model.FlowRecord, error) {
	if m.getFlowFn != nil {
		return m.getFlowFn(ctx, id)
	}
	return nil, service.ErrFlowNotFound
}

func (m *mockService) Markets(ctx context.Context, clientID string) ([]model.MarketInfo, error) {
	if m.marketsFn != nil {
		return m.marketsFn(ctx, clientID)
	}
	return nil, fmt.Errorf("not implemented")
}

type staticValidator bool

func (v staticValidator) IsKnownClient(context.Context, string) bool { return bool(v) }

// --- Test Helpers ---

func newTestApp(svc FlowService, validator ClientValidator) *fiber.App {
	app := fiber.New()
	handler := NewDarkpoolHandler(zap.NewNop(), svc, validator, "default")
	v1 := app.Group("/api/v1")
	v1.Post("/quotes", handler.CreateQuoteHandler)
	v1.Post("/quotes/:flowId/requote", handler.RequoteHandler)
	v1.Post("/quotes/:flowId/assemble", handler.AssembleHandler)
	v1.Post("/quotes/:flowId/submit", handler.SubmitHandler)
	v1.Get("/flows/:flowId", handler.GetFlowHandler)
	v1.Get("/markets", handler.MarketsHandler)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func flowRecord(state model.FlowState) *model.FlowRecord {
	return &model.FlowRecord{
		ID:        uuid.MustParse("6f1f7a52-6f2d-4d39-9a4a-0c1f3d7a9b10"),
		ClientID:  "client-001",
		State:     state,
		Order:     model.ExternalOrder{BaseMint: wethMint, QuoteMint: usdcMint, Side: model.SideSell, BaseAmount: model.NewAmount(1000)},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

const quoteBody = `{
	"clientId": "client-001",
	"baseMint": "0x82af49447d8a07e3bd95bd0d56f35241523fbab1",
	"quoteMint": "0xaf88d065e77c8cc2239327c5edb3a432268e5831",
	"side": "sell",
	"baseAmount": "1000000000000000000000000000000",
	"worstCasePrice": "2400.5"
}`

// --- CreateQuoteHandler ---

func TestCreateQuoteHandler_Success(t *testing.T) {
	var got darkpool.OrderParams
	svc := &mockService{
		requestQuoteFn: func(_ context.Context, clientID string, p darkpool.OrderParams) (*model.FlowRecord, error) {
			assert.Equal(t, "client-001", clientID)
			got = p
			return flowRecord(model.FlowValidated), nil
		},
	}
	resp, raw := doRequest(t, newTestApp(svc, nil), http.MethodPost, "/api/v1/quotes", quoteBody)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var out FlowResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotNil(t, out.Flow)
	assert.Equal(t, model.FlowValidated, out.Flow.State)
	assert.Empty(t, out.ErrorMsg)

	assert.Equal(t, model.SideSell, got.Side)
	assert.Equal(t, "1000000000000000000000000000000", got.BaseAmount.String(), "u128 amounts survive without float rounding")
	require.NotNil(t, got.WorstCasePrice)
	assert.Equal(t, "2400.5", got.WorstCasePrice.String())
}

func TestCreateQuoteHandler_InvalidJSON(t *testing.T) {
	resp, _ := doRequest(t, newTestApp(&mockService{}, nil), http.MethodPost, "/api/v1/quotes", "{invalid")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateQuoteHandler_ValidationErrors(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"missing client": {
			body: `{"baseMint":"a","quoteMint":"b","side":"buy","baseAmount":"1"}`,
			want: "clientId is required",
		},
		"bad side": {
			body: `{"clientId":"c","baseMint":"a","quoteMint":"b","side":"hold","baseAmount":"1"}`,
			want: "side must be",
		},
		"both amounts": {
			body: `{"clientId":"c","baseMint":"a","quoteMint":"b","side":"buy","baseAmount":"1","quoteAmount":"2"}`,
			want: "exactly one of",
		},
		"fractional amount": {
			body: `{"clientId":"c","baseMint":"a","quoteMint":"b","side":"buy","baseAmount":"1.5"}`,
			want: "baseAmount must be an integer",
		},
		"bad price": {
			body: `{"clientId":"c","baseMint":"a","quoteMint":"b","side":"buy","baseAmount":"1","worstCasePrice":"-1"}`,
			want: "worstCasePrice",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, raw := doRequest(t, newTestApp(&mockService{}, nil), http.MethodPost, "/api/v1/quotes", tc.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			var result map[string]string
			require.NoError(t, json.Unmarshal(raw, &result))
			assert.Contains(t, result["error"], tc.want)
		})
	}
}

func TestCreateQuoteHandler_UnknownClient(t *testing.T) {
	resp, _ := doRequest(t, newTestApp(&mockService{}, staticValidator(false)), http.MethodPost, "/api/v1/quotes", quoteBody)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestCreateQuoteHandler_NoQuote(t *testing.T) {
	svc := &mockService{
		requestQuoteFn: func(context.Context, string, darkpool.OrderParams) (*model.FlowRecord, error) {
			rec := flowRecord(model.FlowRejected)
			rec.RejectReason = "no quote available"
			return rec, nil
		},
	}
	resp, raw := doRequest(t, newTestApp(svc, staticValidator(true)), http.MethodPost, "/api/v1/quotes", quoteBody)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var out FlowResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "no quote available", out.ErrorMsg)
}

func TestCreateQuoteHandler_InvalidQuote(t *testing.T) {
	svc := &mockService{
		requestQuoteFn: func(context.Context, string, darkpool.OrderParams) (*model.FlowRecord, error) {
			return flowRecord(model.FlowRejected), &darkpool.ValidationError{Check: darkpool.CheckFees, Detail: "fees exceed proceeds"}
		},
	}
	resp, raw := doRequest(t, newTestApp(svc, nil), http.MethodPost, "/api/v1/quotes", quoteBody)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	var out FlowResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "fees", out.Check)
	require.NotNil(t, out.Flow)
	assert.Equal(t, model.FlowRejected, out.Flow.State)
}

func TestCreateQuoteHandler_RelayerErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		code int
	}{
		"auth":          {&darkpool.AuthError{Reason: "refused"}, fiber.StatusBadGateway},
		"transport":     {&darkpool.TransportError{Method: "POST", Path: "/x", Status: 500}, fiber.StatusBadGateway},
		"invalid order": {&darkpool.InvalidOrderError{Reason: "invalid base mint"}, fiber.StatusBadRequest},
		"timeout":       {context.DeadlineExceeded, fiber.StatusGatewayTimeout},
		"other":         {fmt.Errorf("boom"), fiber.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &mockService{
				requestQuoteFn: func(context.Context, string, darkpool.OrderParams) (*model.FlowRecord, error) {
					return nil, fmt.Errorf("request quote: %w", tc.err)
				},
			}
			resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, "/api/v1/quotes", quoteBody)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

// --- Flow operations ---

func TestAssembleHandler_Resize(t *testing.T) {
	var got service.AssembleParams
	svc := &mockService{
		getFlowFn: func(context.Context, uuid.UUID) (*model.FlowRecord, error) {
			return flowRecord(model.FlowValidated), nil
		},
		assembleFn: func(_ context.Context, _ uuid.UUID, p service.AssembleParams) (*model.FlowRecord, error) {
			got = p
			return flowRecord(model.FlowAssembled), nil
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/assemble"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, `{"baseAmount":"500","receiverAddress":"0xabc"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NotNil(t, got.UpdatedOrder)
	assert.Equal(t, "500", got.UpdatedOrder.BaseAmount.String())
	assert.Equal(t, wethMint, got.UpdatedOrder.BaseMint)
	assert.Equal(t, model.SideSell, got.UpdatedOrder.Side)
	assert.Equal(t, "0xabc", got.ReceiverAddress)
}

func TestAssembleHandler_NoBody(t *testing.T) {
	svc := &mockService{
		assembleFn: func(_ context.Context, _ uuid.UUID, p service.AssembleParams) (*model.FlowRecord, error) {
			assert.Nil(t, p.UpdatedOrder)
			return flowRecord(model.FlowAssembled), nil
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/assemble"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAssembleHandler_Expired(t *testing.T) {
	svc := &mockService{
		assembleFn: func(context.Context, uuid.UUID, service.AssembleParams) (*model.FlowRecord, error) {
			return flowRecord(model.FlowExpired), darkpool.ErrFlowExpired
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/assemble"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusGone, resp.StatusCode)
}

func TestAssembleHandler_WrongState(t *testing.T) {
	svc := &mockService{
		assembleFn: func(context.Context, uuid.UUID, service.AssembleParams) (*model.FlowRecord, error) {
			return flowRecord(model.FlowSubmitted), fmt.Errorf("%w: assemble from submitted", service.ErrWrongState)
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/assemble"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestSubmitHandler_FlowBusy(t *testing.T) {
	svc := &mockService{
		submitFn: func(_ context.Context, id uuid.UUID) (*model.FlowRecord, error) {
			return nil, fmt.Errorf("%w: %s", service.ErrFlowBusy, id)
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/submit"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestSubmitHandler(t *testing.T) {
	svc := &mockService{
		submitFn: func(context.Context, uuid.UUID) (*model.FlowRecord, error) {
			rec := flowRecord(model.FlowSubmitted)
			rec.TxHash = "0x01"
			return rec, nil
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/submit"
	resp, raw := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var out FlowResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "0x01", out.Flow.TxHash)
}

func TestSubmitHandler_Disabled(t *testing.T) {
	svc := &mockService{
		submitFn: func(context.Context, uuid.UUID) (*model.FlowRecord, error) {
			return nil, service.ErrSettlementDisabled
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/submit"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusNotImplemented, resp.StatusCode)
}

func TestRequoteHandler(t *testing.T) {
	svc := &mockService{
		requoteFn: func(context.Context, uuid.UUID) (*model.FlowRecord, error) {
			return flowRecord(model.FlowValidated), nil
		},
	}
	path := "/api/v1/quotes/" + flowRecord("").ID.String() + "/requote"
	resp, _ := doRequest(t, newTestApp(svc, nil), http.MethodPost, path, "")
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestGetFlowHandler(t *testing.T) {
	svc := &mockService{
		getFlowFn: func(_ context.Context, id uuid.UUID) (*model.FlowRecord, error) {
			rec := flowRecord(model.FlowSettled)
			rec.ID = id
			return rec, nil
		},
	}
	id := uuid.New()
	resp, raw := doRequest(t, newTestApp(svc, nil), http.MethodGet, "/api/v1/flows/"+id.String(), "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out FlowResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, id, out.Flow.ID)
}

func TestGetFlowHandler_NotFoundAndBadID(t *testing.T) {
	app := newTestApp(&mockService{}, nil)

	resp, _ := doRequest(t, app, http.MethodGet, "/api/v1/flows/"+uuid.NewString(), "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/flows/not-a-uuid", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMarketsHandler_DefaultClient(t *testing.T) {
	svc := &mockService{
		marketsFn: func(_ context.Context, clientID string) ([]model.MarketInfo, error) {
			assert.Equal(t, "default", clientID)
			return []model.MarketInfo{{Base: model.Token{Address: wethMint, Symbol: "WETH"}}}, nil
		},
	}
	resp, raw := doRequest(t, newTestApp(svc, nil), http.MethodGet, "/api/v1/markets", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out MarketsResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Markets, 1)
	assert.Equal(t, "WETH", out.Markets[0].Base.Symbol)
}

// --- Routes ---

func TestRegisterRoutes_Health(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	st, err := store.NewHybrid(mr.Addr(), 0, "", store.PGPoolConfig{}, zap.NewNop())
	require.NoError(t, err)

	app := fiber.New()
	RegisterRoutes(app, nil, st, NewDarkpoolHandler(zap.NewNop(), &mockService{}, nil, "default"))

	resp, raw := doRequest(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"status":"ok"`)

	mr.Close()
	resp, raw = doRequest(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(raw), "degraded")

	resp, _ = doRequest(t, app, http.MethodGet, "/metrics", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
