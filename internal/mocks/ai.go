package mocks

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

// MockSTTProvider is a mock implementation of ports.STTProvider
type MockSTTProvider struct {
	TranscribeFunc func(ctx context.Context, audio []byte, encoding domain.AudioEncoding, languageHint string) (*ports.ProviderTranscript, error)
	calls          atomic.Int64
}

func (m *MockSTTProvider) Name() string { return "mock-stt" }

func (m *MockSTTProvider) Transcribe(ctx context.Context, audio []byte, encoding domain.AudioEncoding, languageHint string) (*ports.ProviderTranscript, error) {
	m.calls.Add(1)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, encoding, languageHint)
	}
	return &ports.ProviderTranscript{Text: "hello", Confidence: 0.9, HasConfidence: true}, nil
}

func (m *MockSTTProvider) Calls() int { return int(m.calls.Load()) }

// MockIntentProvider is a mock implementation of ports.IntentProvider
type MockIntentProvider struct {
	ClassifyFunc func(ctx context.Context, req ports.IntentRequest) ([]byte, error)
	calls        atomic.Int64
}

func (m *MockIntentProvider) Name() string { return "mock-intent" }

func (m *MockIntentProvider) Classify(ctx context.Context, req ports.IntentRequest) ([]byte, error) {
	m.calls.Add(1)
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	return []byte(`{"intent":"help","entities":[],"confidence":0.9}`), nil
}

func (m *MockIntentProvider) Calls() int { return int(m.calls.Load()) }

// MockTTSProvider is a mock implementation of ports.TTSProvider. By default
// it returns the input text as the audio payload.
type MockTTSProvider struct {
	SynthesizeFunc func(ctx context.Context, text, voice string) (io.ReadCloser, domain.AudioFormat, error)
	calls          atomic.Int64
}

func (m *MockTTSProvider) Name() string { return "mock-tts" }

func (m *MockTTSProvider) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, domain.AudioFormat, error) {
	m.calls.Add(1)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, voice)
	}
	return io.NopCloser(bytes.NewReader([]byte("audio:" + text))), domain.AudioFormat{Encoding: domain.EncodingMP3}, nil
}

func (m *MockTTSProvider) Calls() int { return int(m.calls.Load()) }
