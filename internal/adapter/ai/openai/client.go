// Package openai talks to OpenAI-compatible speech endpoints
// (/audio/transcriptions and /audio/speech).
package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/pkg/config"
)

const providerName = "openai"

// Client provides access to one OpenAI-compatible provider. Call deadlines
// come from the caller's context.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a new OpenAI API client
func NewClient(cfg config.ProviderConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *Client) Name() string { return providerName }

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(body))
	var parsed apiErrorBody
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &domain.ProviderAPIError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

func (c *Client) authorize(req *http.Request) error {
	if c.apiKey == "" {
		return fmt.Errorf("openai: API key not configured")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return nil
}
