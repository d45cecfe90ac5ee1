package handlers

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/service/session"
)

type VoiceHandlerConfig struct {
	MaxAudioBytes int
	TurnTimeout   time.Duration
	DefaultVoice  string
	LanguageHint  string
}

// VoiceHandler runs single pipeline turns over REST for clients that cannot
// hold a websocket open.
type VoiceHandler struct {
	pipeline *session.Pipeline
	cfg      VoiceHandlerConfig
	log      *zap.Logger
}

func NewVoiceHandler(pipeline *session.Pipeline, cfg VoiceHandlerConfig, log *zap.Logger) *VoiceHandler {
	return &VoiceHandler{
		pipeline: pipeline,
		cfg:      cfg,
		log:      log.With(zap.String("component", "voice_rest")),
	}
}

type AudioCommandRequest struct {
	Audio      string `json:"audio"` // Base64
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Language   string `json:"language"`
	Voice      string `json:"voice"`
	SessionID  string `json:"session_id"`
}

type TextCommandRequest struct {
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	SessionID string `json:"session_id"`
}

type CommandResponse struct {
	SessionID   string                   `json:"session_id"`
	Transcript  *domain.TranscriptResult `json:"transcript,omitempty"`
	Intent      *domain.IntentResult     `json:"intent,omitempty"`
	Response    string                   `json:"response"`
	Outcome     string                   `json:"outcome"`
	Audio       string                   `json:"audio,omitempty"`
	AudioFormat *domain.AudioFormat      `json:"audio_format,omitempty"`
	AudioError  string                   `json:"audio_error,omitempty"`
	Truncated   bool                     `json:"truncated,omitempty"`
	RetryAfter  int                      `json:"retry_after,omitempty"`
}

func (h *VoiceHandler) ProcessCommand(c *fiber.Ctx) error {
	var req AudioCommandRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}
	if req.Audio == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "audio is required"})
	}
	if base64.StdEncoding.DecodedLen(len(req.Audio)) > h.cfg.MaxAudioBytes+2 {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "audio too large"})
	}

	audioBytes, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid base64 audio"})
	}
	if len(audioBytes) > h.cfg.MaxAudioBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "audio too large"})
	}

	encoding := domain.AudioEncoding(req.Format)
	if encoding == "" {
		encoding = domain.EncodingWAV
	}
	return h.turn(c, req.SessionID, req.Voice, session.TurnInput{
		Audio: &domain.AudioInput{
			Data:   audioBytes,
			Format: domain.AudioFormat{Encoding: encoding, SampleRate: req.SampleRate, Channels: req.Channels},
		},
		LanguageHint: firstNonEmpty(req.Language, h.cfg.LanguageHint),
	})
}

func (h *VoiceHandler) ProcessText(c *fiber.Ctx) error {
	var req TextCommandRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	return h.turn(c, req.SessionID, req.Voice, session.TurnInput{Text: req.Text})
}

func (h *VoiceHandler) turn(c *fiber.Ctx, sessionID, voiceName string, in session.TurnInput) error {
	principal := middleware.Principal(c)
	if principal == nil {
		return fiber.ErrUnauthorized
	}
	if sessionID == "" {
		sessionID = "rest-" + uuid.NewString()
	}
	in.SessionID = sessionID

	ctx, cancel := context.WithTimeout(c.UserContext(), h.cfg.TurnTimeout)
	defer cancel()

	res := h.pipeline.Process(ctx, principal, in, session.TurnHooks{})
	out := CommandResponse{
		SessionID:  sessionID,
		Transcript: res.Transcript,
		Intent:     res.Intent,
		Response:   res.Response.Text,
		Outcome:    res.Outcome,
	}

	if res.RateLimited() {
		secs := int(res.RetryAfter.Seconds() + 0.999)
		out.RetryAfter = secs
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		return c.Status(fiber.StatusTooManyRequests).JSON(out)
	}

	audio, err := h.pipeline.Synthesizer().Synthesize(ctx, res.Response.Text, firstNonEmpty(voiceName, h.cfg.DefaultVoice))
	if err != nil {
		h.log.Warn("Synthesis failed, answering with text only",
			zap.String("session_id", sessionID),
			zap.String("stage", "synthesize"),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		out.AudioError = session.CodeSynthesisUnavailable
		return c.JSON(out)
	}

	out.Audio = base64.StdEncoding.EncodeToString(audio.Audio)
	out.AudioFormat = &audio.Format
	out.Truncated = audio.Truncated
	return c.JSON(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
