package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/cache"
	"github.com/seu-repo/voice-gateway/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/events"
)

// CacheHandler drops cached intent or speech results on this instance and
// asks every other instance to do the same.
type CacheHandler struct {
	cache  ports.Cache
	events ports.EventPublisher
	log    *zap.Logger
}

func NewCacheHandler(c ports.Cache, publisher ports.EventPublisher, log *zap.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  c,
		events: publisher,
		log:    log,
	}
}

type InvalidateRequest struct {
	Prefix string `json:"prefix"`
}

var invalidatable = map[string]bool{cache.OpIntent: true, cache.OpTTS: true}

func (h *CacheHandler) Invalidate(c *fiber.Ctx) error {
	var req InvalidateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}
	if !invalidatable[req.Prefix] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "prefix must be one of: intent, tts"})
	}
	prefix := req.Prefix + ":"

	n, err := h.cache.DeletePrefix(c.UserContext(), prefix)
	if err != nil {
		h.log.Error("Cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "cache unavailable"})
	}

	principal := middleware.Principal(c)
	h.events.Publish(c.UserContext(), domain.Event{
		Type:    domain.EventCacheInvalidate,
		UserID:  principal.UserID,
		Payload: events.InvalidationPayload(prefix),
	})

	h.log.Info("Cache invalidated by admin",
		zap.String("prefix", prefix),
		zap.Int("entries", n),
		zap.String("user_id", principal.UserID),
	)
	return c.JSON(fiber.Map{"prefix": prefix, "invalidated": n})
}
