package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/infrastructure/ratelimit"
)

// RateLimit applies limiter per authenticated user, falling back to the
// client IP for anonymous requests.
func RateLimit(limiter *ratelimit.Limiter, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if p := Principal(c); p != nil {
			key = p.UserID
		}

		decision, err := limiter.Allow(c.UserContext(), key)
		if err != nil {
			log.Error("Rate limiter unavailable", zap.String("limiter", limiter.Name()), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Rate limiter unavailable"})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			secs := int(decision.RetryAfter.Seconds() + 0.999)
			if secs < 1 {
				secs = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"retry_after": secs,
			})
		}
		return c.Next()
	}
}
