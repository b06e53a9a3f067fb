package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/repository"
	"github.com/novarell/expertdesk-api/internal/utils"
)

// OrderHandler exposes the staff-only order lifecycle mutations.
type OrderHandler struct {
	orders    repository.OrderRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewOrderHandler creates an order handler instance.
func NewOrderHandler(orders repository.OrderRepository, validator *validator.Validate, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		validator: validator,
		logger:    logger.With().Str("component", "order_handler").Logger(),
	}
}

// Register binds the order routes under the provided router group.
func (h *OrderHandler) Register(router fiber.Router) {
	router.Patch("/:id/status", h.updateStatus)
	router.Patch("/:id/expert", h.assignExpert)
}

func (h *OrderHandler) updateStatus(c *fiber.Ctx) error {
	orderID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.UpdateOrderStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := requestContext(c)
	if _, err := h.orders.FindByID(ctx, orderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "order not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("order_id", orderID).Msg("failed to load order")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load order")
	}

	if err := h.orders.UpdateStatus(ctx, orderID, req.Status); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Uint("order_id", orderID).Msg("failed to update order status")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update order status")
	}

	return utils.SendSuccess(c, "order status updated", fiber.Map{"order_id": orderID, "status": req.Status})
}

func (h *OrderHandler) assignExpert(c *fiber.Ctx) error {
	orderID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.AssignExpertRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := requestContext(c)
	if _, err := h.orders.FindByID(ctx, orderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "order not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("order_id", orderID).Msg("failed to load order")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load order")
	}

	if err := h.orders.AssignExpert(ctx, orderID, req.ExpertID, req.ExpertName, req.ExpertEmail); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Uint("order_id", orderID).Msg("failed to assign expert")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to assign expert")
	}

	return utils.SendSuccess(c, "expert assigned", fiber.Map{"order_id": orderID, "expert_id": req.ExpertID})
}
