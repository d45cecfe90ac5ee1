package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe posts audio to /audio/transcriptions with verbose_json output
// so per-segment log probabilities can be turned into a confidence score.
func (c *Client) Transcribe(ctx context.Context, audio []byte, encoding domain.AudioEncoding, languageHint string) (*ports.ProviderTranscript, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	ext := string(encoding)
	if ext == "" || encoding == domain.EncodingPCM16 {
		ext = "wav"
	}
	part, err := w.CreateFormFile("file", "utterance."+ext)
	if err != nil {
		return nil, fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("openai: write audio: %w", err)
	}
	w.WriteField("model", c.model)
	w.WriteField("response_format", "verbose_json")
	if languageHint != "" {
		w.WriteField("language", languageHint)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("openai: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var result transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai: decode transcription: %w", err)
	}

	out := &ports.ProviderTranscript{
		Text:     result.Text,
		Language: result.Language,
		Duration: time.Duration(result.Duration * float64(time.Second)),
	}
	if len(result.Segments) > 0 {
		var sum float64
		for _, s := range result.Segments {
			sum += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
		}
		out.Confidence = clamp01(sum / float64(len(result.Segments)))
		out.HasConfidence = true
	}

	c.log.Debug("Transcription completed",
		zap.Int("audio_bytes", len(audio)),
		zap.Int("chars", len(out.Text)),
		zap.Duration("latency", time.Since(start)),
	)
	return out, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
