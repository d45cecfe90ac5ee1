package voice

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// ScoreInput is everything a ConfidenceScorer may look at.
type ScoreInput struct {
	Text                  string
	AudioDuration         time.Duration
	ProviderConfidence    float64
	HasProviderConfidence bool
}

// ConfidenceScorer assigns a transcript confidence in [0,1].
type ConfidenceScorer interface {
	Score(in ScoreInput) float64
}

// HeuristicScorer is used when the provider reports no confidence and to
// cap provider scores for known hallucinations. Speech models emit stock
// phrases like "thanks for watching" when fed silence or noise.
type HeuristicScorer struct {
	HallucinationPhrases []string
	FillerWords          []string
	// MaxWordsPerSecond above which a transcript is implausible for the
	// audio length.
	MaxWordsPerSecond float64
}

func DefaultScorer() *HeuristicScorer {
	return &HeuristicScorer{
		HallucinationPhrases: []string{
			"thanks for watching",
			"thank you for watching",
			"please subscribe",
			"like and subscribe",
			"subtitles by",
			"transcribed by",
			"[blank_audio]",
			"[music]",
			"(music)",
			"[silence]",
			"you you you",
		},
		FillerWords:       []string{"uh", "um", "uhm", "er", "ah", "hmm", "mm", "mhm", "you"},
		MaxWordsPerSecond: 6,
	}
}

const (
	baseConfidence          = 0.9
	hallucinationConfidence = 0.1
	fillerConfidence        = 0.2
)

func (h *HeuristicScorer) Score(in ScoreInput) float64 {
	lower := strings.ToLower(strings.TrimSpace(in.Text))
	if lower == "" {
		return 0
	}

	hallucinated := false
	for _, p := range h.HallucinationPhrases {
		if strings.Contains(lower, p) {
			hallucinated = true
			break
		}
	}

	if in.HasProviderConfidence {
		if hallucinated {
			return math.Min(in.ProviderConfidence, hallucinationConfidence)
		}
		return clamp01(in.ProviderConfidence)
	}
	if hallucinated {
		return hallucinationConfidence
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	if len(words) == 0 {
		return fillerConfidence
	}
	if h.onlyFiller(words) {
		return fillerConfidence
	}

	score := baseConfidence
	switch len(words) {
	case 1:
		score *= 0.7
	case 2:
		score *= 0.85
	}

	if secs := in.AudioDuration.Seconds(); secs > 0 {
		if float64(len(words))/secs > h.MaxWordsPerSecond {
			score *= 0.5
		}
		if secs > 5 && len(words) <= 1 {
			score *= 0.6
		}
	}

	return clamp01(score)
}

func (h *HeuristicScorer) onlyFiller(words []string) bool {
	for _, w := range words {
		filler := false
		for _, f := range h.FillerWords {
			if w == f {
				filler = true
				break
			}
		}
		if !filler {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
