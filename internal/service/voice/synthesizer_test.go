package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/cache"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/mocks"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

func newSynthesizer(p ports.TTSProvider, c ports.Cache, maxLen, maxSegments int) *Synthesizer {
	return NewSynthesizer(p, newBreaker("tts"), c, SynthesizerConfig{
		MaxTextLength: maxLen,
		MaxSegments:   maxSegments,
		CacheTTL:      24 * time.Hour,
		Timeout:       time.Second,
		ChunkBytes:    4,
		DefaultVoice:  "alloy",
	}, zap.NewNop())
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		maxLen        int
		maxSegments   int
		want          []string
		wantTruncated bool
	}{
		{"empty", "   ", 20, 3, nil, false},
		{"fits", "Hello there.", 20, 3, []string{"Hello there."}, false},
		{"sentences packed", "One. Two. Three.", 9, 3, []string{"One. Two.", "Three."}, false},
		{"long sentence split on words", "alpha beta gamma delta", 11, 3, []string{"alpha beta", "gamma delta"}, false},
		{"hard cut long word", "abcdefghij", 4, 3, []string{"abcd", "efgh", "ij"}, false},
		{"truncated", "One. Two. Three. Four.", 5, 2, []string{"One.", "Two."}, true},
		{"whitespace collapsed", "a\n\n b", 10, 1, []string{"a b"}, false},
		{"no limit", "anything goes here", 0, 0, []string{"anything goes here"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := SplitText(tt.text, tt.maxLen, tt.maxSegments)
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SplitText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitTextDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
	a, _ := SplitText(text, 100, 4)
	b, _ := SplitText(text, 100, 4)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Fatal("splitting is not deterministic")
	}
	for _, s := range a {
		if len([]rune(s)) > 100 {
			t.Errorf("segment exceeds limit: %d", len([]rune(s)))
		}
	}
}

func TestSynthesizeCachesSegments(t *testing.T) {
	tts := &mocks.MockTTSProvider{}
	c := mocks.NewMockCache()
	s := newSynthesizer(tts, c, 600, 4)
	ctx := context.Background()

	first, err := s.Synthesize(ctx, "Your profile: user ID user-42.", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Audio) == 0 || first.Cached {
		t.Fatalf("unexpected first result: cached=%v len=%d", first.Cached, len(first.Audio))
	}

	second, err := s.Synthesize(ctx, "Your profile: user ID user-42.", "")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("second synthesis should be a cache hit")
	}
	if !bytes.Equal(first.Audio, second.Audio) {
		t.Error("cached audio differs from the original")
	}
	if tts.Calls() != 1 {
		t.Errorf("expected one provider call, got %d", tts.Calls())
	}

	keys := c.Keys(cache.OpTTS + ":")
	if len(keys) != 1 || c.TTL(keys[0]) != 24*time.Hour {
		t.Errorf("expected one tts entry with the tts TTL, got %v", keys)
	}
}

func TestSynthesizeVoiceIsPartOfKey(t *testing.T) {
	tts := &mocks.MockTTSProvider{}
	s := newSynthesizer(tts, mocks.NewMockCache(), 600, 4)
	ctx := context.Background()

	if _, err := s.Synthesize(ctx, "Hello.", "alloy"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Synthesize(ctx, "Hello.", "nova"); err != nil {
		t.Fatal(err)
	}
	if tts.Calls() != 2 {
		t.Errorf("different voices must not share cache entries: calls=%d", tts.Calls())
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	var voices []string
	tts := &mocks.MockTTSProvider{
		SynthesizeFunc: func(_ context.Context, text, voice string) (io.ReadCloser, domain.AudioFormat, error) {
			voices = append(voices, voice)
			return io.NopCloser(strings.NewReader("<" + text + ">")), domain.AudioFormat{Encoding: domain.EncodingMP3}, nil
		},
	}
	s := newSynthesizer(tts, nil, 6, 3)
	ctx := context.Background()

	stream, err := s.Stream(ctx, "One. Two. Three. Four.", "")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if !stream.Truncated() {
		t.Error("expected truncated stream")
	}

	var chunks [][]byte
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) > 4 {
			t.Errorf("chunk larger than configured size: %d", len(chunk))
		}
		chunks = append(chunks, chunk)
	}
	if got := string(bytes.Join(chunks, nil)); got != "<One.><Two.><Three.>" {
		t.Errorf("audio = %q", got)
	}
	if len(chunks) < 3 {
		t.Errorf("expected several chunks, got %d", len(chunks))
	}
	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("exhausted stream must keep returning EOF, got %v", err)
	}
	if len(voices) == 0 || voices[0] != "alloy" {
		t.Errorf("default voice not applied: %v", voices)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	tts := &mocks.MockTTSProvider{}
	_, err := newSynthesizer(tts, nil, 600, 4).Synthesize(context.Background(), "  ", "")
	var se *domain.SynthesisError
	if !errors.As(err, &se) || se.Kind != domain.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if tts.Calls() != 0 {
		t.Error("provider called for empty text")
	}
}

func TestSynthesizeProviderFailure(t *testing.T) {
	tts := &mocks.MockTTSProvider{
		SynthesizeFunc: func(context.Context, string, string) (io.ReadCloser, domain.AudioFormat, error) {
			return nil, domain.AudioFormat{}, &domain.ProviderAPIError{Provider: "tts", StatusCode: 500, Message: "boom"}
		},
	}
	c := mocks.NewMockCache()
	s := newSynthesizer(tts, c, 600, 4)

	for i := 0; i < 5; i++ {
		_, err := s.Synthesize(context.Background(), "Hello.", "")
		if domain.KindOf(err) != domain.KindProviderError {
			t.Fatalf("expected provider error, got %v", err)
		}
	}
	_, err := s.Synthesize(context.Background(), "Hello.", "")
	if !circuitbreaker.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if len(c.Keys("")) != 0 {
		t.Error("failed synthesis must not be cached")
	}
}

func TestStreamCloseStillCachesInFlightSegment(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	tts := &mocks.MockTTSProvider{
		SynthesizeFunc: func(_ context.Context, text, _ string) (io.ReadCloser, domain.AudioFormat, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return io.NopCloser(strings.NewReader("audio for " + text)), domain.AudioFormat{Encoding: domain.EncodingMP3}, nil
		},
	}
	c := mocks.NewMockCache()
	s := newSynthesizer(tts, c, 10, 4)

	stream, err := s.Stream(context.Background(), "First one. Second one.", "")
	if err != nil {
		t.Fatal(err)
	}
	<-started
	stream.Close()
	close(release)
	stream.Wait()

	if tts.Calls() != 1 {
		t.Errorf("no new segment should start after Close, calls=%d", tts.Calls())
	}
	if len(c.Keys(cache.OpTTS+":")) != 1 {
		t.Errorf("in-flight segment should be cached")
	}
}
