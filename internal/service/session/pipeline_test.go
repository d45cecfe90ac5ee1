package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
)

var alice = &domain.Principal{UserID: "user-42", Role: domain.UserRoleUser}

func audioTurn(sessionID string) TurnInput {
	return TurnInput{
		SessionID: sessionID,
		Audio: &domain.AudioInput{
			Data:   pcm(time.Second),
			Format: domain.AudioFormat{Encoding: domain.EncodingPCM16, SampleRate: 16000, Channels: 1},
		},
	}
}

func TestPipelineShowMyProfile(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	var transcript *domain.TranscriptResult
	var intent *domain.IntentResult
	res := h.pipeline.Process(ctx, alice, audioTurn("s1"), TurnHooks{
		OnTranscript: func(t *domain.TranscriptResult) { transcript = t },
		OnIntent:     func(i *domain.IntentResult) { intent = i },
	})

	if res.Err != nil || res.Outcome != OutcomeOK {
		t.Fatalf("unexpected outcome %s: %v", res.Outcome, res.Err)
	}
	if transcript == nil || transcript.Text != "show my profile" {
		t.Fatalf("transcript hook not called: %+v", transcript)
	}
	if intent == nil || intent.Intent != voice.IntentGetProfile || len(intent.Entities) != 0 || intent.Confidence < 0.6 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if !strings.Contains(res.Response.Text, "user-42") {
		t.Errorf("response %q does not mention the user id", res.Response.Text)
	}

	audio, err := h.pipeline.Synthesizer().Synthesize(ctx, res.Response.Text, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(audio.Audio) == 0 {
		t.Error("expected audio")
	}
}

func TestPipelineRateLimitStopsBeforeTranscription(t *testing.T) {
	h := newHarness(t, harnessOptions{voiceLimit: 100})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if res := h.pipeline.Process(ctx, alice, audioTurn("s1"), TurnHooks{}); res.RateLimited() {
			t.Fatalf("request %d rejected early", i+1)
		}
	}
	if h.stt.Calls() != 100 {
		t.Fatalf("expected 100 transcriptions, got %d", h.stt.Calls())
	}

	res := h.pipeline.Process(ctx, alice, audioTurn("s1"), TurnHooks{})
	if !res.RateLimited() {
		t.Fatalf("101st request should be rate limited, got %s", res.Outcome)
	}
	var rl *domain.RateLimitError
	if !errors.As(res.Err, &rl) || rl.RetryAfter <= 0 || res.RetryAfter <= 0 {
		t.Errorf("expected retry-after, got %v", res.Err)
	}
	if !strings.Contains(res.Response.Text, "limit") {
		t.Errorf("unexpected message %q", res.Response.Text)
	}
	if h.stt.Calls() != 100 {
		t.Errorf("rate limited request reached the transcription provider")
	}

	other := &domain.Principal{UserID: "user-7"}
	if res := h.pipeline.Process(ctx, other, audioTurn("s2"), TurnHooks{}); res.RateLimited() {
		t.Error("limits are per user")
	}
}

func TestPipelineClassificationTimeoutsTripBreaker(t *testing.T) {
	h := newHarness(t, harnessOptions{intentTimeout: 20 * time.Millisecond})
	h.intent.ClassifyFunc = func(ctx context.Context, _ ports.IntentRequest) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := h.pipeline.Process(ctx, alice, TurnInput{Text: "show my profile"}, TurnHooks{})
		if res.Response.Text != MsgUnderstandingTrouble || domain.KindOf(res.Err) != domain.KindTimeout {
			t.Fatalf("turn %d: unexpected result %q %v", i, res.Response.Text, res.Err)
		}
	}

	start := time.Now()
	res := h.pipeline.Process(ctx, alice, TurnInput{Text: "show my profile"}, TurnHooks{})
	if !circuitbreaker.IsCircuitOpen(res.Err) {
		t.Fatalf("expected open circuit, got %v", res.Err)
	}
	if res.Response.Text != MsgUnderstandingTrouble || res.Outcome != OutcomeDegraded {
		t.Errorf("unexpected reply %q", res.Response.Text)
	}
	if elapsed := time.Since(start); elapsed >= 20*time.Millisecond {
		t.Errorf("open breaker should answer without waiting, took %s", elapsed)
	}
	if h.intent.Calls() != 5 {
		t.Errorf("expected 5 provider calls, got %d", h.intent.Calls())
	}
}

func TestPipelineDegradedReplies(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*harness)
		input TurnInput
		want  string
		stage string
	}{
		{
			name: "stt outage",
			setup: func(h *harness) {
				h.stt.TranscribeFunc = func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
					return nil, &domain.ProviderAPIError{Provider: "stt", StatusCode: 502}
				}
			},
			input: audioTurn("s"),
			want:  MsgHearingTrouble,
			stage: voice.StageTranscribe,
		},
		{
			name: "silence",
			setup: func(h *harness) {
				h.stt.TranscribeFunc = func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
					return &ports.ProviderTranscript{Text: ""}, nil
				}
			},
			input: audioTurn("s"),
			want:  MsgNoSpeech,
			stage: voice.StageTranscribe,
		},
		{
			name: "search outage",
			setup: func(h *harness) {
				h.search.SearchFunc = func(context.Context, string) ([]domain.SearchResult, error) {
					return nil, errors.New("connection refused")
				}
			},
			input: TurnInput{Text: "search for jazz"},
			want:  MsgUpstreamTrouble,
			stage: voice.StageRoute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			tt.setup(h)
			res := h.pipeline.Process(context.Background(), alice, tt.input, TurnHooks{})
			if res.Response.Text != tt.want || res.Stage != tt.stage || res.Outcome != OutcomeDegraded {
				t.Errorf("got %q at %s (%s)", res.Response.Text, res.Stage, res.Outcome)
			}
		})
	}
}

func TestPipelineSTTBreakerApology(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stt.TranscribeFunc = func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
		return nil, context.DeadlineExceeded
	}
	for i := 0; i < 5; i++ {
		h.pipeline.Process(context.Background(), alice, audioTurn("s"), TurnHooks{})
	}
	res := h.pipeline.Process(context.Background(), alice, audioTurn("s"), TurnHooks{})
	if !circuitbreaker.IsCircuitOpen(res.Err) || res.Response.Text != MsgHearingTrouble {
		t.Fatalf("expected apology for open circuit, got %q %v", res.Response.Text, res.Err)
	}
	if h.stt.Calls() != 5 {
		t.Errorf("expected 5 provider calls, got %d", h.stt.Calls())
	}
}

func TestPipelineLowConfidenceTranscript(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stt.TranscribeFunc = func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
		return &ports.ProviderTranscript{Text: "Thanks for watching!"}, nil
	}
	res := h.pipeline.Process(context.Background(), alice, audioTurn("s"), TurnHooks{})
	if res.Outcome != OutcomeClarification || res.Response.Text != MsgNoSpeech {
		t.Fatalf("unexpected result %s %q", res.Outcome, res.Response.Text)
	}
	if h.intent.Calls() != 0 {
		t.Error("low confidence transcript should not be classified")
	}
}

func TestPipelineAbandonedAfterTranscription(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	res := h.pipeline.Process(context.Background(), alice, audioTurn("s"), TurnHooks{
		Abandoned: func() bool { return true },
	})
	if res.Outcome != OutcomeAbandoned {
		t.Fatalf("expected abandoned, got %s", res.Outcome)
	}
	if h.stt.Calls() != 1 || h.intent.Calls() != 0 {
		t.Errorf("abandoned turn should stop after the call in flight: stt=%d intent=%d", h.stt.Calls(), h.intent.Calls())
	}
}
