package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/bridge"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// BridgeService defines the bridge operations needed by the handler.
type BridgeService interface {
	Quote(ctx context.Context, req model.BridgeRequest) (*model.QuoteSummary, error)
	Submit(ctx context.Context, req model.BridgeRequest) (*model.BridgeRecord, error)
	Status(ctx context.Context, clientID, requestID string) (*model.BridgeRecord, error)
}

// ClientValidator checks whether a client ID is configured and allowed.
type ClientValidator interface {
	IsKnownClient(ctx context.Context, clientID string) bool
}

var errUnknownClient = errors.New("unknown or unauthorized clientId")

// BridgeHandler handles HTTP API requests for bridge operations.
type BridgeHandler struct {
	logger    *zap.Logger
	service   BridgeService
	validator ClientValidator
}

// NewBridgeHandler creates a new BridgeHandler.
// validator is optional; if nil, client validation is skipped.
func NewBridgeHandler(logger *zap.Logger, service BridgeService, validator ClientValidator) *BridgeHandler {
	return &BridgeHandler{
		logger:    logger,
		service:   service,
		validator: validator,
	}
}

// parse decodes and validates the body shared by quotes and bridges. On
// failure it returns the HTTP status to answer with.
func (h *BridgeHandler) parse(c *fiber.Ctx) (BridgeCreateRequest, int, error) {
	var req BridgeCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.StatusBadRequest, err
	}
	if err := req.Validate(); err != nil {
		return req, fiber.StatusBadRequest, err
	}
	if h.validator != nil && !h.validator.IsKnownClient(c.UserContext(), req.ClientID) {
		return req, fiber.StatusForbidden, errUnknownClient
	}
	return req, fiber.StatusOK, nil
}

// CreateQuoteHandler returns the relay quote for a bridge without submitting it.
func (h *BridgeHandler) CreateQuoteHandler(c *fiber.Ctx) error {
	req, status, err := h.parse(c)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	quote, err := h.service.Quote(c.UserContext(), toBridgeRequest(req))
	if err != nil {
		h.logger.Error("bridge.quote.failed",
			zap.String("client", req.ClientID),
			zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(quote)
}

// CreateBridgeHandler submits a bridge and answers once the relay accepted it.
// Settlement is tracked in the background.
func (h *BridgeHandler) CreateBridgeHandler(c *fiber.Ctx) error {
	req, status, err := h.parse(c)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.Info("bridge.create",
		zap.String("client", req.ClientID),
		zap.String("flow", req.Flow),
		zap.Uint64("origin_chain", req.OriginChainID),
		zap.Uint64("destination_chain", req.DestinationChainID))

	rec, err := h.service.Submit(c.UserContext(), toBridgeRequest(req))
	if err != nil {
		h.logger.Error("bridge.create.failed",
			zap.String("client", req.ClientID),
			zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(BridgeResponse{ErrorMsg: err.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(BridgeResponse{
		RequestID: rec.RequestID,
		Status:    rec.Status,
	})
}

// GetBridgeHandler returns the latest known state of a request.
func (h *BridgeHandler) GetBridgeHandler(c *fiber.Ctx) error {
	requestID := strings.TrimSpace(c.Params("requestId"))
	clientID := strings.TrimSpace(c.Query("clientId"))
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "requestId is required"})
	}
	if clientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "clientId is required"})
	}
	if h.validator != nil && !h.validator.IsKnownClient(c.UserContext(), clientID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": errUnknownClient.Error()})
	}

	rec, err := h.service.Status(c.UserContext(), clientID, requestID)
	switch {
	case errors.Is(err, bridge.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		h.logger.Warn("bridge.status.failed",
			zap.String("client", clientID),
			zap.String("request_id", requestID),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(rec)
}
