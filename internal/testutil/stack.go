package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/ai/keyword"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/ratelimit"
	"github.com/seu-repo/voice-gateway/internal/mocks"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/session"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
)

// Tokens accepted by Stack.Auth.
const (
	UserToken  = "user-token"
	AdminToken = "admin-token"
)

// Stack is a complete voice pipeline over mock providers and collaborators,
// with the offline keyword classifier standing in for the LLM.
type Stack struct {
	STT      *mocks.MockSTTProvider
	TTS      *mocks.MockTTSProvider
	Users    *mocks.MockUserStore
	Search   *mocks.MockSearchService
	Auth     *mocks.MockAuthService
	Events   *mocks.MockEventPublisher
	Cache    *mocks.MockCache
	Breakers *circuitbreaker.Manager
	Pipeline *session.Pipeline
	Manager  *session.Manager
	Session  session.Config
}

// NewStack builds a Stack whose STT mock hears transcript. voiceLimit caps
// turns per user per hour.
func NewStack(t *testing.T, transcript string, voiceLimit int) *Stack {
	t.Helper()
	log := zap.NewNop()

	s := &Stack{
		STT: &mocks.MockSTTProvider{
			TranscribeFunc: func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
				return &ports.ProviderTranscript{Text: transcript, Language: "en", Confidence: 0.9, HasConfidence: true}, nil
			},
		},
		TTS:    &mocks.MockTTSProvider{},
		Users:  mocks.NewMockUserStore(&domain.Profile{UserID: "user-1", DisplayName: "Ada", Language: "en"}),
		Search: &mocks.MockSearchService{},
		Auth: &mocks.MockAuthService{Tokens: map[string]*domain.Principal{
			UserToken:  {UserID: "user-1", Role: domain.UserRoleUser, TokenID: "jti-user"},
			AdminToken: {UserID: "admin-1", Role: domain.UserRoleAdmin, TokenID: "jti-admin"},
		}},
		Events:   &mocks.MockEventPublisher{},
		Cache:    mocks.NewMockCache(),
		Breakers: circuitbreaker.NewManager(log),
	}

	registry, err := voice.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	classifierProvider, err := keyword.NewProvider(keyword.RulesFromRegistry(registry), log)
	if err != nil {
		t.Fatalf("keyword provider: %v", err)
	}

	breaker := func(name string) *circuitbreaker.CircuitBreaker {
		return s.Breakers.Get(name, circuitbreaker.Settings{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			IsExcluded:       domain.ExcludedFromBreaker,
		})
	}

	transcriber := voice.NewTranscriber(s.STT, breaker("stt"), nil, voice.TranscriberConfig{
		MaxAudioBytes: 1 << 20,
		MaxDuration:   30 * time.Second,
		SampleRate:    16000,
		Timeout:       time.Second,
	}, log)
	classifier := voice.NewClassifier(classifierProvider, breaker("intent"), registry, s.Cache, voice.ClassifierConfig{
		ConfidenceThreshold: 0.6,
		CacheTTL:            time.Minute,
		Timeout:             time.Second,
	}, log)
	router := voice.NewRouter(registry, s.Users, s.Search, log)
	synthesizer := voice.NewSynthesizer(s.TTS, breaker("tts"), s.Cache, voice.SynthesizerConfig{
		MaxTextLength: 600,
		MaxSegments:   4,
		CacheTTL:      time.Hour,
		Timeout:       time.Second,
		DefaultVoice:  "alloy",
	}, log)
	limiter := ratelimit.NewLimiter("voice", ratelimit.NewMemoryStore(), voiceLimit, time.Hour, true, log)

	s.Pipeline = session.NewPipeline(transcriber, classifier, router, synthesizer, limiter, session.PipelineConfig{MinTranscriptConfidence: 0.3}, log)
	s.Session = session.Config{
		MaxAudioBytes:      1 << 20,
		ContextTurns:       5,
		IdleTimeout:        5 * time.Second,
		TurnTimeout:        5 * time.Second,
		MaxFramesPerSecond: 1000,
		MaxSessionsPerUser: 3,
		DefaultVoice:       "alloy",
		LanguageHint:       "en",
	}
	s.Manager = session.NewManager(s.Auth, s.Pipeline, s.Events, s.Session, log)
	return s
}

// PCM returns d of silent 16 kHz mono PCM16 audio.
func PCM(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*16000)*2)
}
