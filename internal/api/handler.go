package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/service"
	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// FlowService defines the match flow operations needed by the handler.
type FlowService interface {
	RequestQuote(ctx context.Context, clientID string, params darkpool.OrderParams) (*model.FlowRecord, error)
	Requote(ctx context.Context, flowID uuid.UUID) (*model.FlowRecord, error)
	Assemble(ctx context.Context, flowID uuid.UUID, params service.AssembleParams) (*model.FlowRecord, error)
	Submit(ctx context.Context, flowID uuid.UUID) (*model.FlowRecord, error)
	GetFlow(ctx context.Context, flowID uuid.UUID) (*model.FlowRecord, error)
	Markets(ctx context.Context, clientID string) ([]model.MarketInfo, error)
}

// ClientValidator checks whether a client ID is configured and allowed.
type ClientValidator interface {
	IsKnownClient(ctx context.Context, clientID string) bool
}

// DarkpoolHandler handles HTTP API requests for match flows.
type DarkpoolHandler struct {
	logger        *zap.Logger
	service       FlowService
	validator     ClientValidator
	defaultClient string
}

// NewDarkpoolHandler creates a new DarkpoolHandler.
// validator is optional; if nil, client validation is skipped.
func NewDarkpoolHandler(logger *zap.Logger, svc FlowService, validator ClientValidator, defaultClient string) *DarkpoolHandler {
	return &DarkpoolHandler{
		logger:        logger,
		service:       svc,
		validator:     validator,
		defaultClient: defaultClient,
	}
}

// CreateQuoteHandler starts a flow and returns it validated.
func (h *DarkpoolHandler) CreateQuoteHandler(c *fiber.Ctx) error {
	var req QuoteCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if h.validator != nil && !h.validator.IsKnownClient(c.Context(), req.ClientID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "unknown or unauthorized clientId"})
	}
	params, err := req.OrderParams()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rec, err := h.service.RequestQuote(c.Context(), req.ClientID, params)
	if err != nil {
		h.logger.Error("darkpool.create_quote.failed",
			zap.String("client", req.ClientID),
			zap.Error(err))
		return h.flowError(c, rec, err)
	}
	return h.flowResult(c, rec, fiber.StatusCreated)
}

// RequoteHandler restarts an expired flow.
func (h *DarkpoolHandler) RequoteHandler(c *fiber.Ctx) error {
	id, err := flowID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	rec, err := h.service.Requote(c.Context(), id)
	if err != nil {
		h.logger.Error("darkpool.requote.failed", zap.String("flow", id.String()), zap.Error(err))
		return h.flowError(c, rec, err)
	}
	return h.flowResult(c, rec, fiber.StatusCreated)
}

// AssembleHandler assembles a validated quote into a settlement bundle.
func (h *DarkpoolHandler) AssembleHandler(c *fiber.Ctx) error {
	id, err := flowID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	var req AssembleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	params := service.AssembleParams{
		ReceiverAddress: req.ReceiverAddress,
		AllowShared:     req.AllowShared,
	}
	if req.resizes() {
		rec, err := h.service.GetFlow(c.Context(), id)
		if err != nil {
			return h.flowError(c, nil, err)
		}
		updated, err := req.resize(rec.Order)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		params.UpdatedOrder = &updated
	}

	rec, err := h.service.Assemble(c.Context(), id, params)
	if err != nil {
		h.logger.Error("darkpool.assemble.failed", zap.String("flow", id.String()), zap.Error(err))
		return h.flowError(c, rec, err)
	}
	return h.flowResult(c, rec, fiber.StatusOK)
}

// SubmitHandler broadcasts the assembled bundle.
func (h *DarkpoolHandler) SubmitHandler(c *fiber.Ctx) error {
	id, err := flowID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	rec, err := h.service.Submit(c.Context(), id)
	if err != nil {
		h.logger.Error("darkpool.submit.failed", zap.String("flow", id.String()), zap.Error(err))
		return h.flowError(c, rec, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(FlowResponse{Flow: rec})
}

// GetFlowHandler returns a flow by id.
func (h *DarkpoolHandler) GetFlowHandler(c *fiber.Ctx) error {
	id, err := flowID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	rec, err := h.service.GetFlow(c.Context(), id)
	if err != nil {
		return h.flowError(c, nil, err)
	}
	return c.JSON(FlowResponse{Flow: rec})
}

// MarketsHandler lists the relayer's markets.
func (h *DarkpoolHandler) MarketsHandler(c *fiber.Ctx) error {
	clientID := c.Query("clientId", h.defaultClient)
	markets, err := h.service.Markets(c.Context(), clientID)
	if err != nil {
		h.logger.Error("darkpool.markets.failed", zap.String("client", clientID), zap.Error(err))
		return h.flowError(c, nil, err)
	}
	return c.JSON(MarketsResponse{Markets: markets})
}

// flowResult reports a flow that ended without an error. A rejected flow
// means the relayer had nothing to offer.
func (h *DarkpoolHandler) flowResult(c *fiber.Ctx, rec *model.FlowRecord, okStatus int) error {
	if rec != nil && rec.State == model.FlowRejected {
		return c.Status(fiber.StatusNotFound).JSON(FlowResponse{Flow: rec, ErrorMsg: rec.RejectReason})
	}
	return c.Status(okStatus).JSON(FlowResponse{Flow: rec})
}

func (h *DarkpoolHandler) flowError(c *fiber.Ctx, rec *model.FlowRecord, err error) error {
	resp := FlowResponse{Flow: rec, ErrorMsg: err.Error()}
	if check, ok := darkpool.IsValidation(err); ok {
		resp.Check = string(check)
	}
	return c.Status(statusFor(err)).JSON(resp)
}

func statusFor(err error) int {
	var (
		ioe *darkpool.InvalidOrderError
		ve  *darkpool.ValidationError
		te  *darkpool.TransportError
	)
	switch {
	case errors.As(err, &ioe):
		return fiber.StatusBadRequest
	case errors.As(err, &ve):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrFlowNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, darkpool.ErrFlowExpired):
		return fiber.StatusGone
	case errors.Is(err, service.ErrWrongState), errors.Is(err, service.ErrFlowBusy),
		errors.Is(err, darkpool.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrSettlementDisabled):
		return fiber.StatusNotImplemented
	case darkpool.IsAuth(err), errors.As(err, &te):
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func flowID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("flowId"))
	if err != nil {
		return uuid.Nil, errors.New("flowId must be a uuid")
	}
	return id, nil
}
