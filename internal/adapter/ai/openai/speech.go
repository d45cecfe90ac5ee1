package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize posts text to /audio/speech and hands back the response body
// so audio can be forwarded while it downloads.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, domain.AudioFormat, error) {
	format := domain.AudioFormat{Encoding: domain.EncodingMP3}

	payload, err := json.Marshal(speechRequest{
		Model:          c.model,
		Voice:          voice,
		Input:          text,
		ResponseFormat: string(domain.EncodingMP3),
	})
	if err != nil {
		return nil, format, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, format, fmt.Errorf("openai: create request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, format, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, format, fmt.Errorf("openai: send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, format, parseError(resp)
	}

	return resp.Body, format, nil
}
