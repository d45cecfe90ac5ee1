package voice

import (
	"testing"
	"time"
)

func TestHeuristicScorer(t *testing.T) {
	s := DefaultScorer()

	tests := []struct {
		name    string
		in      ScoreInput
		wantMin float64
		wantMax float64
	}{
		{"empty", ScoreInput{Text: "  "}, 0, 0},
		{"normal sentence", ScoreInput{Text: "show my profile please", AudioDuration: 2 * time.Second}, 0.85, 0.95},
		{"single word", ScoreInput{Text: "profile", AudioDuration: time.Second}, 0.6, 0.65},
		{"two words", ScoreInput{Text: "my profile", AudioDuration: time.Second}, 0.75, 0.8},
		{"filler only", ScoreInput{Text: "uh um", AudioDuration: time.Second}, 0.2, 0.2},
		{"hallucination", ScoreInput{Text: "Thanks for watching!", AudioDuration: 3 * time.Second}, 0.1, 0.1},
		{"blank audio marker", ScoreInput{Text: "[BLANK_AUDIO]"}, 0.1, 0.1},
		{"too fast for the audio", ScoreInput{Text: "one two three four five six seven eight nine ten", AudioDuration: time.Second}, 0.4, 0.5},
		{"native confidence kept", ScoreInput{Text: "show my profile", ProviderConfidence: 0.72, HasProviderConfidence: true}, 0.72, 0.72},
		{"native confidence capped", ScoreInput{Text: "thank you for watching", ProviderConfidence: 0.99, HasProviderConfidence: true}, 0, 0.1},
		{"native confidence clamped", ScoreInput{Text: "hello there", ProviderConfidence: 1.7, HasProviderConfidence: true}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.in)
			if got < tt.wantMin-1e-9 || got > tt.wantMax+1e-9 {
				t.Errorf("Score(%q) = %.3f, want [%.2f, %.2f]", tt.in.Text, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}
