package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

// ValidateTwilioSignature rejects webhook requests that were not signed with
// authToken. publicURL is the URL Twilio was told to call; when empty it is
// rebuilt from the request, which breaks behind proxies that rewrite the host.
func ValidateTwilioSignature(authToken, publicURL string, logger *zap.Logger) fiber.Handler {
	validator := client.NewRequestValidator(authToken)

	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Twilio-Signature")
		if signature == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Missing Twilio signature",
			})
		}

		url := publicURL
		if url == "" {
			url = c.BaseURL() + c.OriginalURL()
		}

		params := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})

		if !validator.Validate(url, params, signature) {
			logger.Warn("twilio signature mismatch", zap.String("url", url), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid signature",
			})
		}

		return c.Next()
	}
}
