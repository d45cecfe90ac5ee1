package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/http/fiber/middleware"
)

type TokenRevoker interface {
	RevokeToken(ctx context.Context, tokenID string) error
}

type AuthHandler struct {
	revoker TokenRevoker
	log     *zap.Logger
}

func NewAuthHandler(revoker TokenRevoker, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		revoker: revoker,
		log:     log,
	}
}

// Me returns the caller's identity as the gateway sees it.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	p := middleware.Principal(c)
	return c.JSON(fiber.Map{
		"user_id": p.UserID,
		"role":    p.Role,
		"scopes":  p.Scopes,
	})
}

// Logout revokes the presented token so it can no longer open sessions.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	p := middleware.Principal(c)
	if p.TokenID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token has no id"})
	}
	if err := h.revoker.RevokeToken(c.UserContext(), p.TokenID); err != nil {
		h.log.Error("Failed to revoke token", zap.String("user_id", p.UserID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "could not revoke token"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
