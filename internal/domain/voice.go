package domain

import (
	"slices"
	"time"
)

type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionAuthenticated
	SessionListening
	SessionProcessing
	SessionResponding
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionAuthenticated:
		return "authenticated"
	case SessionListening:
		return "listening"
	case SessionProcessing:
		return "processing"
	case SessionResponding:
		return "responding"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Principal is the identity carried by a validated access token.
type Principal struct {
	UserID  string   `json:"user_id"`
	Role    UserRole `json:"role"`
	Scopes  []string `json:"scopes,omitempty"`
	TokenID string   `json:"-"`
}

func (p *Principal) HasScope(scope string) bool {
	if scope == "" || p.Role == UserRoleAdmin {
		return true
	}
	return slices.Contains(p.Scopes, scope)
}

type AudioEncoding string

const (
	EncodingWAV   AudioEncoding = "wav"
	EncodingPCM16 AudioEncoding = "pcm16"
	EncodingMP3   AudioEncoding = "mp3"
	EncodingOGG   AudioEncoding = "ogg"
	EncodingWebM  AudioEncoding = "webm"
)

// Known reports whether e is accepted as input. The empty encoding is WAV.
func (e AudioEncoding) Known() bool {
	switch e {
	case "", EncodingWAV, EncodingPCM16, EncodingMP3, EncodingOGG, EncodingWebM:
		return true
	}
	return false
}

// Compressed reports whether the duration of e is unknown without decoding.
func (e AudioEncoding) Compressed() bool {
	switch e {
	case EncodingMP3, EncodingOGG, EncodingWebM:
		return true
	}
	return false
}

type AudioFormat struct {
	Encoding   AudioEncoding `json:"encoding"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
}

type AudioInput struct {
	Data   []byte
	Format AudioFormat
}

type TranscriptResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

type IntentResult struct {
	Intent                string            `json:"intent"`
	Entities              map[string]string `json:"entities"`
	Confidence            float64           `json:"confidence"`
	NeedsClarification    bool              `json:"needs_clarification"`
	ClarificationQuestion string            `json:"clarification_question,omitempty"`
	RegistryVersion       string            `json:"registry_version,omitempty"`
}

// SideEffect records what a routed action did, for logs and events.
type SideEffect struct {
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

const SideEffectSessionClose = "session_close"

type ActionResponse struct {
	Text       string      `json:"text"`
	SideEffect *SideEffect `json:"side_effect,omitempty"`
}

// Turn is one remembered exchange in the conversation context.
type Turn struct {
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities,omitempty"`
	At       time.Time         `json:"at"`
}

type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// SynthesisResult is fully buffered synthesized audio.
type SynthesisResult struct {
	Audio     []byte
	Format    AudioFormat
	Truncated bool
	Cached    bool
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}
