package ports

import (
	"context"
	"io"
	"time"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// ProviderTranscript is the raw answer of a speech-to-text provider.
// HasConfidence is false when the provider gave no usable score.
type ProviderTranscript struct {
	Text          string
	Language      string
	Confidence    float64
	HasConfidence bool
	Duration      time.Duration
}

// STTProvider transcribes an encoded audio payload, normally 16 kHz mono WAV.
type STTProvider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, encoding domain.AudioEncoding, languageHint string) (*ProviderTranscript, error)
}

// IntentRequest carries the registry-derived instructions and the allowed
// intent names alongside the utterance.
type IntentRequest struct {
	Instructions string
	Intents      []string
	Text         string
	History      []domain.Turn
}

// IntentProvider returns the provider's raw JSON answer:
//
//	{"intent": "...", "entities": [{"name": "...", "value": "..."}],
//	 "confidence": 0.0-1.0, "clarification_question": "..."}
//
// Parsing and schema validation belong to the caller.
type IntentProvider interface {
	Name() string
	Classify(ctx context.Context, req IntentRequest) ([]byte, error)
}

// TTSProvider returns a stream of encoded audio. The caller closes it.
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, domain.AudioFormat, error)
}
