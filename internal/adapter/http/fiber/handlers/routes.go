package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/ratelimit"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/health"
)

// Routes lists what Register mounts. Nil handlers are skipped.
type Routes struct {
	Auth       ports.AuthService
	APILimiter *ratelimit.Limiter
	Voice      *VoiceHandler
	Cache      *CacheHandler
	Session    *AuthHandler
	Health     *health.FiberHandler
	Log        *zap.Logger
}

func Register(app *fiber.App, r Routes) {
	if r.Health != nil {
		r.Health.RegisterRoutes(app)
	}

	// Metrics endpoint for Prometheus
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})

	v1 := app.Group("/api/v1", middleware.CircuitBreaker("voice-api", r.Log))
	protected := v1.Group("", middleware.AuthRequired(r.Auth))
	if r.APILimiter != nil {
		protected.Use(middleware.RateLimit(r.APILimiter, r.Log))
	}

	if r.Session != nil {
		protected.Get("/auth/me", r.Session.Me)
		protected.Post("/auth/logout", r.Session.Logout)
	}
	if r.Voice != nil {
		protected.Post("/voice/command", r.Voice.ProcessCommand)
		protected.Post("/voice/text", r.Voice.ProcessText)
	}
	if r.Cache != nil {
		admin := protected.Group("/admin", middleware.RequireRole(domain.UserRoleAdmin))
		admin.Post("/cache/invalidate", r.Cache.Invalidate)
	}
}
