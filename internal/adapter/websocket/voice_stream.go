package websocket

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/service/session"
)

const tokenLocal = "voice_token"

// conn adapts a fiber websocket connection to session.Conn. Close sends a
// close frame before dropping the socket.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("websocket: connection closed")
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

type VoiceStreamHandler struct {
	manager      *session.Manager
	maxFrameSize int64
	logger       *zap.Logger
}

func NewVoiceStreamHandler(manager *session.Manager, maxFrameSize int64, logger *zap.Logger) *VoiceStreamHandler {
	return &VoiceStreamHandler{
		manager:      manager,
		maxFrameSize: maxFrameSize,
		logger:       logger.With(zap.String("component", "ws")),
	}
}

// HandleVoiceStream runs one voice session for the lifetime of the socket.
func (h *VoiceStreamHandler) HandleVoiceStream(c *websocket.Conn) {
	token, _ := c.Locals(tokenLocal).(string)
	if h.maxFrameSize > 0 {
		c.SetReadLimit(h.maxFrameSize)
	}

	err := h.manager.Serve(context.Background(), &conn{ws: c}, token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAuthentication), errors.Is(err, domain.ErrSessionLimit):
		h.logger.Info("Session rejected", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
	case errors.Is(err, session.ErrShuttingDown):
		h.logger.Debug("Connection refused during shutdown")
	default:
		h.logger.Warn("Session ended with error", zap.Error(err))
	}
}

// TokenFromRequest reads the identity token from the Authorization header
// or, for browser clients that cannot set headers, the token query value.
func TokenFromRequest(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// SetupVoiceRoutes configura rotas de WebSocket para voz
func SetupVoiceRoutes(app *fiber.App, handler *VoiceStreamHandler) {
	app.Use("/ws/voice", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(tokenLocal, TokenFromRequest(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/voice", websocket.New(handler.HandleVoiceStream))
}
