package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/pkg/config"
)

const (
	providerName     = "anthropic"
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	classifyToolName = "record_intent"
)

// IntentClient classifies utterances through the Messages API, forcing the
// model to answer with a single tool call whose input is the intent JSON.
type IntentClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewIntentClient(cfg config.ProviderConfig, log *zap.Logger) (*IntentClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key not configured")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &IntentClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		httpClient: &http.Client{},
		log:        log,
	}, nil
}

func (c *IntentClient) Name() string { return providerName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type messagesRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	System      string            `json:"system,omitempty"`
	Temperature float64           `json:"temperature"`
	Messages    []message         `json:"messages"`
	Tools       []tool            `json:"tools"`
	ToolChoice  map[string]string `json:"tool_choice"`
}

type messagesResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *IntentClient) Classify(ctx context.Context, req ports.IntentRequest) ([]byte, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   512,
		System:      req.Instructions,
		Temperature: 0,
		Messages:    []message{{Role: "user", Content: userPrompt(req)}},
		Tools: []tool{{
			Name:        classifyToolName,
			Description: "Record the intent of the user's utterance.",
			InputSchema: intentSchema(req.Intents),
		}},
		ToolChoice: map[string]string{"type": "tool", "name": classifyToolName},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &domain.ProviderAPIError{Provider: providerName, StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.ClassificationError{Kind: domain.KindMalformedResponse, Err: err}
	}

	c.log.Debug("Anthropic classification completed",
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens),
	)

	for _, block := range result.Content {
		if block.Type == "tool_use" && block.Name == classifyToolName {
			return block.Input, nil
		}
	}
	return nil, &domain.ClassificationError{Kind: domain.KindMalformedResponse, Err: fmt.Errorf("anthropic: no %s tool call in response", classifyToolName)}
}

func userPrompt(req ports.IntentRequest) string {
	if len(req.History) == 0 {
		return req.Text
	}

	var b strings.Builder
	b.WriteString("Recent turns (oldest first):\n")
	for _, t := range req.History {
		fmt.Fprintf(&b, "- %s", t.Intent)
		for k, v := range t.Entities {
			fmt.Fprintf(&b, " %s=%q", k, v)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nUtterance: %s", req.Text)
	return b.String()
}

func intentSchema(intents []string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"intent": map[string]interface{}{"type": "string", "enum": intents},
			"entities": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name":  map[string]string{"type": "string"},
						"value": map[string]string{"type": "string"},
					},
					"required": []string{"name", "value"},
				},
			},
			"confidence":             map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"clarification_question": map[string]string{"type": "string"},
		},
		"required": []string{"intent", "entities", "confidence"},
	}
}
