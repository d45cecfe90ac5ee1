package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	fibercors "github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/seu-repo/voice-gateway/pkg/config"
)

var (
	defaultCORSMethods = []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions}
	defaultCORSHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	defaultCORSExpose  = []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
)

func listOr(values, fallback []string) string {
	if len(values) == 0 {
		values = fallback
	}
	return strings.Join(values, ",")
}

// NewCORS builds the CORS middleware for browser clients. Fiber refuses
// credentials with a wildcard origin, so they are only allowed when origins
// are listed explicitly.
func NewCORS(cfg config.CORSConfig) fiber.Handler {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 86400
	}
	wildcard := len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*")

	return fibercors.New(fibercors.Config{
		AllowOrigins:     listOr(cfg.AllowedOrigins, []string{"*"}),
		AllowMethods:     listOr(cfg.AllowedMethods, defaultCORSMethods),
		AllowHeaders:     listOr(cfg.AllowedHeaders, defaultCORSHeaders),
		ExposeHeaders:    listOr(cfg.ExposeHeaders, defaultCORSExpose),
		AllowCredentials: cfg.Credentials && !wildcard,
		MaxAge:           maxAge,
	})
}
