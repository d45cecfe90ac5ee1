package voice

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/mocks"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

func newTranscriber(p ports.STTProvider, cfg TranscriberConfig) *Transcriber {
	if cfg.MaxAudioBytes == 0 {
		cfg.MaxAudioBytes = 1 << 20
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return NewTranscriber(p, newBreaker("stt"), nil, cfg, zap.NewNop())
}

func pcmInput(d time.Duration) domain.AudioInput {
	return domain.AudioInput{
		Data:   pcmSilence(d),
		Format: domain.AudioFormat{Encoding: domain.EncodingPCM16, SampleRate: 16000, Channels: 1},
	}
}

func TestTranscribeConvertsPCMToWAV(t *testing.T) {
	var gotEncoding domain.AudioEncoding
	var gotAudio []byte
	var gotHint string
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(ctx context.Context, audio []byte, encoding domain.AudioEncoding, hint string) (*ports.ProviderTranscript, error) {
			gotAudio, gotEncoding, gotHint = audio, encoding, hint
			return &ports.ProviderTranscript{Text: " show my profile ", Language: "en", Confidence: 0.8, HasConfidence: true}, nil
		},
	}
	tr := newTranscriber(stt, TranscriberConfig{LanguageHint: "en"})

	res, err := tr.Transcribe(context.Background(), pcmInput(time.Second), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "show my profile" || !res.IsFinal || res.Language != "en" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Confidence != 0.8 {
		t.Errorf("expected native confidence, got %v", res.Confidence)
	}
	if gotEncoding != domain.EncodingWAV || !bytes.HasPrefix(gotAudio, []byte("RIFF")) {
		t.Errorf("provider should receive WAV, got %s", gotEncoding)
	}
	if gotHint != "en" {
		t.Errorf("expected configured language hint, got %q", gotHint)
	}
}

func TestTranscribeRejectsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		cfg   TranscriberConfig
		input domain.AudioInput
	}{
		{"empty", TranscriberConfig{}, domain.AudioInput{}},
		{"too many bytes", TranscriberConfig{MaxAudioBytes: 1000}, pcmInput(time.Second)},
		{"too long", TranscriberConfig{MaxDuration: time.Second}, pcmInput(2 * time.Second)},
		{"not a wav", TranscriberConfig{}, domain.AudioInput{Data: []byte("definitely not audio"), Format: domain.AudioFormat{Encoding: domain.EncodingWAV}}},
		{"unaligned pcm", TranscriberConfig{}, domain.AudioInput{Data: []byte{1, 2, 3}, Format: domain.AudioFormat{Encoding: domain.EncodingPCM16}}},
		{"compressed too long", TranscriberConfig{MaxDuration: 30 * time.Second}, domain.AudioInput{Data: make([]byte, 1<<20), Format: domain.AudioFormat{Encoding: domain.EncodingWebM}}},
		{"unknown encoding", TranscriberConfig{}, domain.AudioInput{Data: make([]byte, 1024), Format: domain.AudioFormat{Encoding: "flac"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stt := &mocks.MockSTTProvider{}
			_, err := newTranscriber(stt, tt.cfg).Transcribe(context.Background(), tt.input, "")
			var te *domain.TranscriptionError
			if !errors.As(err, &te) || te.Kind != domain.KindInvalidAudio {
				t.Fatalf("expected invalid audio, got %v", err)
			}
			if stt.Calls() != 0 {
				t.Errorf("provider called %d times for rejected input", stt.Calls())
			}
		})
	}
}

func TestTranscribeCompressedWithinLimit(t *testing.T) {
	var gotEncoding domain.AudioEncoding
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(ctx context.Context, audio []byte, encoding domain.AudioEncoding, hint string) (*ports.ProviderTranscript, error) {
			gotEncoding = encoding
			return &ports.ProviderTranscript{Text: "show my profile", Duration: 2 * time.Second, Confidence: 0.9, HasConfidence: true}, nil
		},
	}
	// 40 KB is at most 10s at the floor bitrate.
	in := domain.AudioInput{Data: make([]byte, 40_000), Format: domain.AudioFormat{Encoding: domain.EncodingOGG}}
	res, err := newTranscriber(stt, TranscriberConfig{MaxDuration: 30 * time.Second}).Transcribe(context.Background(), in, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotEncoding != domain.EncodingOGG || res.Text != "show my profile" {
		t.Errorf("compressed audio should pass through, got %s %+v", gotEncoding, res)
	}
}

func TestTranscribeNoSpeech(t *testing.T) {
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
			return &ports.ProviderTranscript{Text: "   "}, nil
		},
	}
	_, err := newTranscriber(stt, TranscriberConfig{}).Transcribe(context.Background(), pcmInput(time.Second), "")
	if domain.KindOf(err) != domain.KindInvalidAudio {
		t.Fatalf("expected invalid audio, got %v", err)
	}
}

func TestTranscribeHeuristicConfidence(t *testing.T) {
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
			return &ports.ProviderTranscript{Text: "Thanks for watching!"}, nil
		},
	}
	res, err := newTranscriber(stt, TranscriberConfig{}).Transcribe(context.Background(), pcmInput(time.Second), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence > 0.15 {
		t.Errorf("hallucinated transcript scored %v", res.Confidence)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(ctx context.Context, _ []byte, _ domain.AudioEncoding, _ string) (*ports.ProviderTranscript, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	tr := newTranscriber(stt, TranscriberConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := tr.Transcribe(context.Background(), pcmInput(time.Second), "")
	if domain.KindOf(err) != domain.KindTimeout || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("call outlived its timeout")
	}
}

func TestTranscribeBreakerOpens(t *testing.T) {
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
			return nil, &domain.ProviderAPIError{Provider: "stt", StatusCode: 503, Message: "overloaded"}
		},
	}
	tr := newTranscriber(stt, TranscriberConfig{})

	for i := 0; i < 5; i++ {
		_, err := tr.Transcribe(context.Background(), pcmInput(time.Second), "")
		if domain.KindOf(err) != domain.KindProviderError {
			t.Fatalf("call %d: expected provider error, got %v", i, err)
		}
	}

	_, err := tr.Transcribe(context.Background(), pcmInput(time.Second), "")
	if !circuitbreaker.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	var te *domain.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("open circuit should still be a TranscriptionError, got %T", err)
	}
	if stt.Calls() != 5 {
		t.Errorf("expected 5 provider calls, got %d", stt.Calls())
	}
}

func TestTranscribeClientErrorDoesNotTrip(t *testing.T) {
	stt := &mocks.MockSTTProvider{
		TranscribeFunc: func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
			return nil, &domain.ProviderAPIError{Provider: "stt", StatusCode: 400, Message: "unsupported file"}
		},
	}
	tr := newTranscriber(stt, TranscriberConfig{})
	for i := 0; i < 8; i++ {
		_, err := tr.Transcribe(context.Background(), pcmInput(time.Second), "")
		if domain.KindOf(err) != domain.KindInvalidAudio {
			t.Fatalf("expected invalid audio, got %v", err)
		}
	}
	if tr.breaker.State() != circuitbreaker.StateClosed {
		t.Errorf("4xx answers must not open the breaker")
	}
}
