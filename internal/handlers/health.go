package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	Version  string
	Storage  string
	Notifier string
	store    Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, storage, notifier string, store Pinger) *HealthHandler {
	return &HealthHandler{
		Version:  version,
		Storage:  storage,
		Notifier: notifier,
		store:    store,
	}
}

// Root describes the service.
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "DropConfirm Backend",
		"version": h.Version,
		"endpoints": fiber.Map{
			"health":       "/health",
			"otp_generate": "/orders/:orderId/otp/generate",
			"otp_verify":   "/orders/:orderId/otp/verify",
			"webhook":      "/webhook/twilio/status",
		},
	})
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := fiber.StatusOK
	dbOK := true
	if err := h.store.Ping(ctx); err != nil {
		status = "unhealthy"
		code = fiber.StatusServiceUnavailable
		dbOK = false
	}

	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"version": h.Version,
		"services": fiber.Map{
			"storage":  h.Storage,
			"database": dbOK,
			"notifier": h.Notifier,
		},
	})
}
