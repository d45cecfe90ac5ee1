package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/audio"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

type TranscriberConfig struct {
	MaxAudioBytes int
	MaxDuration   time.Duration
	SampleRate    int
	LanguageHint  string
	Timeout       time.Duration
}

// Transcriber turns an utterance into text through the STT provider.
type Transcriber struct {
	provider ports.STTProvider
	breaker  *circuitbreaker.CircuitBreaker
	scorer   ConfidenceScorer
	cfg      TranscriberConfig
	log      *zap.Logger
}

func NewTranscriber(provider ports.STTProvider, breaker *circuitbreaker.CircuitBreaker, scorer ConfidenceScorer, cfg TranscriberConfig, log *zap.Logger) *Transcriber {
	if scorer == nil {
		scorer = DefaultScorer()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Transcriber{
		provider: provider,
		breaker:  breaker,
		scorer:   scorer,
		cfg:      cfg,
		log:      log.With(zap.String("component", "transcriber")),
	}
}

// Transcribe validates and converts in, then calls the provider. Oversized
// input is rejected before any network call. An empty languageHint falls
// back to the configured one.
func (t *Transcriber) Transcribe(ctx context.Context, in domain.AudioInput, languageHint string) (*domain.TranscriptResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "voice.transcribe")
	start := time.Now()

	result, err := t.transcribe(ctx, in, languageHint)
	if result != nil {
		span.SetAttributes(attribute.Float64("confidence", result.Confidence))
	}
	finishStage(StageTranscribe, start, span, err)
	return result, err
}

func (t *Transcriber) transcribe(ctx context.Context, in domain.AudioInput, languageHint string) (*domain.TranscriptResult, error) {
	if len(in.Data) == 0 {
		return nil, &domain.TranscriptionError{Kind: domain.KindInvalidAudio, Err: errors.New("empty audio")}
	}
	if t.cfg.MaxAudioBytes > 0 && len(in.Data) > t.cfg.MaxAudioBytes {
		return nil, &domain.TranscriptionError{
			Kind: domain.KindInvalidAudio,
			Err:  fmt.Errorf("audio is %d bytes, limit %d", len(in.Data), t.cfg.MaxAudioBytes),
		}
	}

	prepared, err := audio.Prepare(in, t.cfg.SampleRate)
	if err != nil {
		return nil, &domain.TranscriptionError{Kind: domain.KindInvalidAudio, Err: err}
	}
	if t.cfg.MaxDuration > 0 && prepared.Duration > t.cfg.MaxDuration {
		what := "audio is"
		if prepared.Estimated {
			what = "compressed audio may run"
		}
		return nil, &domain.TranscriptionError{
			Kind: domain.KindInvalidAudio,
			Err:  fmt.Errorf("%s %s long, limit %s", what, prepared.Duration.Round(time.Millisecond), t.cfg.MaxDuration),
		}
	}

	if languageHint == "" {
		languageHint = t.cfg.LanguageHint
	}

	raw, err := circuitbreaker.ExecuteWithResult(ctx, t.breaker, func(ctx context.Context) (*ports.ProviderTranscript, error) {
		if t.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
			defer cancel()
		}
		return t.provider.Transcribe(ctx, prepared.Data, prepared.Encoding, languageHint)
	})
	if err != nil {
		return nil, t.wrapError(err)
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return nil, &domain.TranscriptionError{Kind: domain.KindInvalidAudio, Err: errors.New("no speech detected")}
	}

	duration := prepared.Duration
	if prepared.Estimated && raw.Duration > 0 {
		duration = raw.Duration
	}
	confidence := t.scorer.Score(ScoreInput{
		Text:                  text,
		AudioDuration:         duration,
		ProviderConfidence:    raw.Confidence,
		HasProviderConfidence: raw.HasConfidence,
	})

	language := raw.Language
	if language == "" {
		language = languageHint
	}

	t.log.Debug("Transcribed utterance",
		zap.String("provider", t.provider.Name()),
		zap.Int("chars", len(text)),
		zap.Float64("confidence", confidence),
		zap.Duration("audio_duration", duration),
	)

	return &domain.TranscriptResult{
		Text:       text,
		Language:   language,
		Confidence: confidence,
		IsFinal:    true,
	}, nil
}

func (t *Transcriber) wrapError(err error) error {
	if circuitbreaker.Rejected(err) {
		return &domain.TranscriptionError{Kind: domain.KindProviderError, Err: err}
	}
	var apiErr *domain.ProviderAPIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 413, 415, 422:
			return &domain.TranscriptionError{Kind: domain.KindInvalidAudio, Err: err}
		}
	}
	return &domain.TranscriptionError{Kind: domain.ClassifyCallError(err), Err: err}
}
