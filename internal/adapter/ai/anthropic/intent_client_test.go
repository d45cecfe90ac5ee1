package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/pkg/config"
)

func newTestClient(t *testing.T, url string) *IntentClient {
	t.Helper()
	c, err := NewIntentClient(config.ProviderConfig{BaseURL: url, APIKey: "key", Model: "claude-test"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassifyReturnsToolInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Header.Get("x-api-key") != "key" {
			t.Errorf("unexpected request %s", r.URL.Path)
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.System != "classify" || req.ToolChoice["name"] != classifyToolName {
			t.Errorf("unexpected request %+v", req)
		}
		if !strings.Contains(req.Messages[0].Content, "get_profile") || !strings.HasSuffix(req.Messages[0].Content, "Utterance: and now?") {
			t.Errorf("history missing from prompt: %q", req.Messages[0].Content)
		}
		w.Write([]byte(`{"content":[{"type":"tool_use","name":"record_intent",
			"input":{"intent":"help","entities":[],"confidence":0.8}}]}`))
	}))
	defer srv.Close()

	raw, err := newTestClient(t, srv.URL).Classify(context.Background(), ports.IntentRequest{
		Instructions: "classify",
		Intents:      []string{"help", "get_profile"},
		Text:         "and now?",
		History:      []domain.Turn{{Intent: "get_profile"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &got); err != nil || got.Intent != "help" || got.Confidence != 0.8 {
		t.Errorf("unexpected classification %s (%v)", raw, err)
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"server error", 529, `{"error":"overloaded"}`, func(err error) bool {
			var apiErr *domain.ProviderAPIError
			return errors.As(err, &apiErr) && apiErr.IsServerError()
		}},
		{"no tool call", 200, `{"content":[{"type":"text","text":"hi"}]}`, func(err error) bool {
			return domain.KindOf(err) == domain.KindMalformedResponse
		}},
		{"garbage", 200, `not json`, func(err error) bool {
			return domain.KindOf(err) == domain.KindMalformedResponse
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Classify(context.Background(), ports.IntentRequest{Text: "x"})
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestNewIntentClientRequiresKey(t *testing.T) {
	if _, err := NewIntentClient(config.ProviderConfig{}, zap.NewNop()); err == nil {
		t.Error("expected error without API key")
	}
}
