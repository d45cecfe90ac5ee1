package health

import (
	"github.com/gofiber/fiber/v2"
)

// FiberHandler exposes the service as HTTP probes.
type FiberHandler struct {
	service *Service
}

func NewFiberHandler(service *Service) *FiberHandler {
	return &FiberHandler{service: service}
}

// RegisterRoutes mounts the probes under /health plus the short
// orchestrator aliases.
func (h *FiberHandler) RegisterRoutes(app *fiber.App) {
	g := app.Group("/health")
	g.Get("/live", h.live)
	g.Get("/ready", h.ready)
	g.Get("/breakers", h.breakers)

	app.Get("/healthz", h.live)
	app.Get("/readyz", h.ready)
}

func (h *FiberHandler) live(c *fiber.Ctx) error {
	return c.JSON(h.service.Health(c.UserContext()))
}

// ready answers 503 while any dependency is unhealthy so load balancers
// stop routing voice sessions here.
func (h *FiberHandler) ready(c *fiber.Ctx) error {
	resp := h.service.Ready(c.UserContext())
	if !resp.Ready {
		c.Status(fiber.StatusServiceUnavailable)
	}
	return c.JSON(resp)
}

func (h *FiberHandler) breakers(c *fiber.Ctx) error {
	return c.JSON(h.service.Breakers())
}
