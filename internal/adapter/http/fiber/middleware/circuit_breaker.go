package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
)

const routeBreakerCooldown = 30 * time.Second

var errServerError = errors.New("handler answered with a server error")

// CircuitBreaker sheds load on a route group once most recent requests end
// in a 5xx. Client errors count as successes.
func CircuitBreaker(name string, log *zap.Logger) fiber.Handler {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     routeBreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 3 && c.TotalFailures*5 >= c.Requests*3
		},
		IsSuccessful: func(err error) bool {
			var fe *fiber.Error
			return err == nil || (errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			log.Warn("Route breaker state changed", zap.String("name", name), zap.Stringer("to", to))
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)

	return func(c *fiber.Ctx) error {
		var handlerErr error
		_, err := cb.Execute(func() (interface{}, error) {
			handlerErr = c.Next()
			if handlerErr == nil && c.Response().StatusCode() >= fiber.StatusInternalServerError {
				return nil, errServerError
			}
			return nil, handlerErr
		})

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(routeBreakerCooldown.Seconds())))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service temporarily unavailable"})
		default:
			return handlerErr
		}
	}
}
