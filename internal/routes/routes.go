package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/handlers"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/middleware"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/ratelimit"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	OTP     *handlers.OTPHandler
	Health  *handlers.HealthHandler
	Webhook *handlers.WebhookHandler

	GenerateLimiter *ratelimit.Limiter
	VerifyLimiter   *ratelimit.Limiter

	// Twilio status callback validation; skipped when TwilioAuthToken is empty.
	TwilioAuthToken string
	TwilioPublicURL string

	Logger *zap.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, d Deps) {
	app.Get("/", d.Health.Root)
	app.Get("/health", d.Health.Check)

	orders := app.Group("/orders/:orderId/otp")
	orders.Post("/generate", middleware.RateLimit(d.GenerateLimiter, middleware.RateLimitOptions{}), d.OTP.Generate)
	orders.Post("/verify", middleware.RateLimit(d.VerifyLimiter, middleware.RateLimitOptions{}), d.OTP.Verify)

	webhooks := app.Group("/webhook")
	if d.TwilioAuthToken != "" {
		webhooks.Post("/twilio/status", middleware.ValidateTwilioSignature(d.TwilioAuthToken, d.TwilioPublicURL, d.Logger), d.Webhook.TwilioStatus)
	} else {
		d.Logger.Warn("twilio webhook signature validation disabled")
		webhooks.Post("/twilio/status", d.Webhook.TwilioStatus)
	}
}
