package session

import (
	"math"
	"time"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// Message types of the streaming connection, numbered as in RFC 6455.
const (
	MessageText   = 1
	MessageBinary = 2
)

// Server frame types.
const (
	FrameConnected     = "connected"
	FrameStatus        = "status"
	FrameTranscript    = "transcript"
	FrameIntent        = "intent"
	FrameResponse      = "response"
	FrameAudioStart    = "audio_start"
	FrameAudioComplete = "audio_complete"
	FrameError         = "error"
	FrameRateLimited   = "rate_limited"
	FrameClosing       = "closing"
)

// Client frame types.
const (
	FrameStart        = "start"
	FrameTextFallback = "text_fallback"
	FrameKeepalive    = "keepalive"
	FrameClose        = "close"
)

// Error codes carried by error frames.
const (
	CodeUnauthorized         = "unauthorized"
	CodeSessionLimit         = "session_limit"
	CodeBadFrame             = "bad_frame"
	CodeUnknownType          = "unknown_type"
	CodeAudioTooLarge        = "audio_too_large"
	CodeEmptyUtterance       = "empty_utterance"
	CodeBusy                 = "busy"
	CodeTooManyFrames        = "too_many_frames"
	CodeSynthesisUnavailable = "synthesis_unavailable"
)

// ClientFrame is a structured frame sent by the client.
type ClientFrame struct {
	Type       string `json:"type"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Text       string `json:"text,omitempty"`
	Language   string `json:"language,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// ServerFrame is a structured frame sent to the client. Only the fields
// relevant to Type are set.
type ServerFrame struct {
	Type       string              `json:"type"`
	SessionID  string              `json:"session_id,omitempty"`
	UserID     string              `json:"user_id,omitempty"`
	Message    string              `json:"message,omitempty"`
	Code       string              `json:"code,omitempty"`
	Text       string              `json:"text,omitempty"`
	Confidence *float64            `json:"confidence,omitempty"`
	IsFinal    *bool               `json:"is_final,omitempty"`
	Intent     string              `json:"intent,omitempty"`
	Entities   map[string]string   `json:"entities,omitempty"`
	Format     *domain.AudioFormat `json:"format,omitempty"`
	RetryAfter int                 `json:"retry_after,omitempty"`
	Remaining  *int                `json:"remaining,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

func statusFrame(message string) ServerFrame {
	return ServerFrame{Type: FrameStatus, Message: message}
}

func errorFrame(code, message string) ServerFrame {
	return ServerFrame{Type: FrameError, Code: code, Message: message}
}

func transcriptFrame(t *domain.TranscriptResult) ServerFrame {
	conf, final := t.Confidence, t.IsFinal
	return ServerFrame{Type: FrameTranscript, Text: t.Text, Confidence: &conf, IsFinal: &final}
}

func intentFrame(i *domain.IntentResult) ServerFrame {
	conf := i.Confidence
	return ServerFrame{Type: FrameIntent, Intent: i.Intent, Entities: i.Entities, Confidence: &conf}
}

// retryAfterSeconds rounds up so a client never retries early.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
