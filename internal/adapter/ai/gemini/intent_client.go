package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/pkg/config"
)

const providerName = "gemini"

// IntentClient classifies utterances with a Gemini model constrained to a
// JSON response schema.
type IntentClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewIntentClient(ctx context.Context, cfg config.ProviderConfig, log *zap.Logger) (*IntentClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key not configured")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &IntentClient{
		client: client,
		model:  cfg.Model,
		log:    log,
	}, nil
}

func (c *IntentClient) Name() string { return providerName }

func (c *IntentClient) Classify(ctx context.Context, req ports.IntentRequest) ([]byte, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    intentSchema(req.Intents),
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, mapError(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}
	return []byte(text), nil
}

func userPrompt(req ports.IntentRequest) string {
	if len(req.History) == 0 {
		return req.Text
	}

	var b strings.Builder
	b.WriteString("Recent turns (oldest first):\n")
	for _, t := range req.History {
		b.WriteString("- ")
		b.WriteString(t.Intent)
		for k, v := range t.Entities {
			fmt.Fprintf(&b, " %s=%q", k, v)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nUtterance: ")
	b.WriteString(req.Text)
	return b.String()
}

func intentSchema(intents []string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"intent": {Type: genai.TypeString, Enum: intents},
			"entities": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":  {Type: genai.TypeString},
						"value": {Type: genai.TypeString},
					},
					Required: []string{"name", "value"},
				},
			},
			"confidence":             {Type: genai.TypeNumber},
			"clarification_question": {Type: genai.TypeString},
		},
		Required: []string{"intent", "entities", "confidence"},
	}
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderAPIError{Provider: providerName, StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &domain.ProviderAPIError{Provider: providerName, StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}
