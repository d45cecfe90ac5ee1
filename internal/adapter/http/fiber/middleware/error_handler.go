package middleware

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// ErrorHandler maps errors that escape a handler to JSON responses.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := err.Error()

		var (
			fe *fiber.Error
			rl *domain.RateLimitError
		)
		switch {
		case errors.As(err, &fe):
			code = fe.Code
		case errors.As(err, &rl):
			code = fiber.StatusTooManyRequests
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(rl.RetryAfter.Seconds()+0.999)))
		case errors.Is(err, domain.ErrAuthentication):
			code = fiber.StatusUnauthorized
			message = "Invalid or expired token"
		case errors.Is(err, domain.ErrNotFound):
			code = fiber.StatusNotFound
		}

		if code == fiber.StatusInternalServerError {
			log.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
			message = "Internal server error"
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
