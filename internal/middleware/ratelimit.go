package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/ratelimit"
)

// KeyFunc derives the rate-limit key for a request.
type KeyFunc func(c *fiber.Ctx) string

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	// KeyFunc defaults to the caller IP.
	KeyFunc KeyFunc
	// Message is returned in the error field of a rejected request.
	Message string
}

const defaultRateLimitMessage = "Too many requests, please try again later."

// RateLimit admits requests through l. Rejected requests get 429 with a
// Retry-After header; the downstream handler is not called.
func RateLimit(l *ratelimit.Limiter, opts RateLimitOptions) fiber.Handler {
	if opts.KeyFunc == nil {
		opts.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if opts.Message == "" {
		opts.Message = defaultRateLimitMessage
	}
	cfg := l.Config()

	return func(c *fiber.Ctx) error {
		key := opts.KeyFunc(c)
		res := l.Check(key)

		c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))

		if !res.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(res.RetryAfterSeconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":    false,
				"error":      opts.Message,
				"retryAfter": res.RetryAfterSeconds,
			})
		}

		err := c.Next()
		if cfg.SkipSuccessfulRequests || cfg.SkipFailedRequests {
			failed := err != nil || c.Response().StatusCode() >= fiber.StatusBadRequest
			if (failed && cfg.SkipFailedRequests) || (!failed && cfg.SkipSuccessfulRequests) {
				l.Refund(key)
			}
		}
		return err
	}
}
