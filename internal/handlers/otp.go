package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/services"
)

// OTPManager issues and checks delivery passcodes.
type OTPManager interface {
	Generate(ctx context.Context, orderID string) (*services.Result, error)
	Verify(ctx context.Context, orderID, code string) (*services.Result, error)
}

// OTPHandler serves the delivery confirmation endpoints.
type OTPHandler struct {
	otps   OTPManager
	logger *zap.Logger
}

func NewOTPHandler(otps OTPManager, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{otps: otps, logger: logger}
}

// Generate sends a fresh passcode to the order's customer.
func (h *OTPHandler) Generate(c *fiber.Ctx) error {
	orderID := c.Params("orderId")

	res, err := h.otps.Generate(c.UserContext(), orderID)
	if err != nil {
		return h.fail(c, orderID, err)
	}
	return c.JSON(res)
}

// Verify checks the passcode relayed by the courier and completes the order.
func (h *OTPHandler) Verify(c *fiber.Ctx) error {
	orderID := c.Params("orderId")

	var req struct {
		OTP string `json:"otp"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	res, err := h.otps.Verify(c.UserContext(), orderID, req.OTP)
	if err != nil {
		return h.fail(c, orderID, err)
	}
	return c.JSON(res)
}

func (h *OTPHandler) fail(c *fiber.Ctx, orderID string, err error) error {
	status, msg := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error("otp request failed",
			zap.String("order_id", orderID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// errorStatus maps service errors to an HTTP status and a client-safe message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrNoContact),
		errors.Is(err, services.ErrOTPNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrExpired):
		return fiber.StatusGone, err.Error()
	case errors.Is(err, services.ErrTooManyAttempts):
		return fiber.StatusTooManyRequests, err.Error()
	case errors.Is(err, services.ErrInvalidOTP):
		return fiber.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrOrderClosed):
		return fiber.StatusConflict, err.Error()
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}
