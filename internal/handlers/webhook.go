package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/storage"
)

// NotificationStatusUpdater records provider delivery receipts.
type NotificationStatusUpdater interface {
	UpdateNotificationStatus(ctx context.Context, providerMessageID, status, errMsg string) error
}

// TwilioStatusPayload is the form Twilio posts to a message status callback.
type TwilioStatusPayload struct {
	MessageSid    string `form:"MessageSid"`
	MessageStatus string `form:"MessageStatus"` // queued, sent, delivered, read, failed, undelivered
	ErrorCode     string `form:"ErrorCode"`
	ErrorMessage  string `form:"ErrorMessage"`
	To            string `form:"To"`
}

// WebhookHandler handles provider callbacks.
type WebhookHandler struct {
	notifications NotificationStatusUpdater
	logger        *zap.Logger
}

func NewWebhookHandler(notifications NotificationStatusUpdater, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{notifications: notifications, logger: logger}
}

// TwilioStatus updates the notification log from a delivery receipt. Unknown
// message SIDs are acknowledged so Twilio does not retry them.
func (h *WebhookHandler) TwilioStatus(c *fiber.Ctx) error {
	var payload TwilioStatusPayload
	if err := c.BodyParser(&payload); err != nil || payload.MessageSid == "" || payload.MessageStatus == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid webhook payload",
		})
	}

	errMsg := payload.ErrorMessage
	if errMsg == "" && payload.ErrorCode != "" {
		errMsg = "twilio error " + payload.ErrorCode
	}

	err := h.notifications.UpdateNotificationStatus(c.UserContext(), payload.MessageSid, payload.MessageStatus, errMsg)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.logger.Debug("status for unknown message", zap.String("message_sid", payload.MessageSid))
	case err != nil:
		h.logger.Error("update notification status",
			zap.String("message_sid", payload.MessageSid),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Internal server error",
		})
	default:
		h.logger.Info("message status",
			zap.String("message_sid", payload.MessageSid),
			zap.String("status", payload.MessageStatus),
			zap.String("error_code", payload.ErrorCode),
		)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
