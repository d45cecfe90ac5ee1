package voice

import (
	"context"
	"errors"
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

func newClassifier(p ports.IntentProvider, c ports.Cache) *Classifier {
	return NewClassifier(p, newBreaker("intent"), mustRegistry(), c, ClassifierConfig{
		ConfidenceThreshold: 0.6,
		CacheTTL:            5 * time.Minute,
		Timeout:             50 * time.Millisecond,
	}, zap.NewNop())
}

func respond(body string) func(context.Context, ports.IntentRequest) ([]byte, error) {
	return func(context.Context, ports.IntentRequest) ([]byte, error) {
		return []byte(body), nil
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  Show   MY\tProfile \n"); got != "show my profile" {
		t.Errorf("NormalizeText = %q", got)
	}
}

func TestClassifyCachesConfidentResults(t *testing.T) {
	var seen ports.IntentRequest
	provider := &mocks.MockIntentProvider{
		ClassifyFunc: func(_ context.Context, req ports.IntentRequest) ([]byte, error) {
			seen = req
			return []byte(`{"intent":"get_profile","entities":[],"confidence":0.93}`), nil
		},
	}
	c := mocks.NewMockCache()
	cl := newClassifier(provider, c)
	ctx := context.Background()

	first, err := cl.Classify(ctx, "Show my profile", nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Intent != IntentGetProfile || first.NeedsClarification || len(first.Entities) != 0 {
		t.Fatalf("unexpected result: %+v", first)
	}
	if seen.Text != "Show my profile" || !strings.Contains(seen.Instructions, "get_profile") || len(seen.Intents) == 0 {
		t.Errorf("provider request missing registry data: %+v", seen)
	}

	second, err := cl.Classify(ctx, "  SHOW my   profile ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if provider.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", provider.Calls())
	}
	if second.Intent != first.Intent || second.Confidence != first.Confidence {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}

	keys := c.Keys(cache.OpIntent + ":")
	if len(keys) != 1 || c.TTL(keys[0]) != 5*time.Minute {
		t.Errorf("expected one intent entry with the intent TTL, got %v", keys)
	}
}

func TestClassifyLowConfidenceAsksAndSkipsCache(t *testing.T) {
	provider := &mocks.MockIntentProvider{
		ClassifyFunc: respond(`{"intent":"search_content","entities":[],"confidence":0.4,"clarification_question":"What should I search for?"}`),
	}
	c := mocks.NewMockCache()
	cl := newClassifier(provider, c)

	for i := 0; i < 2; i++ {
		res, err := cl.Classify(context.Background(), "stuff", nil)
		if err != nil {
			t.Fatal(err)
		}
		if !res.NeedsClarification || res.ClarificationQuestion != "What should I search for?" {
			t.Fatalf("expected clarification, got %+v", res)
		}
	}
	if provider.Calls() != 2 {
		t.Errorf("ambiguous results must not be cached: calls=%d", provider.Calls())
	}
	if len(c.Keys("")) != 0 {
		t.Errorf("cache should be empty")
	}
}

func TestClassifyMalformedFallsBackToHelp(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"entities":[],"confidence":0.9}`,
		`{"intent":"help","entities":[]}`,
		`{"intent":"help","entities":[],"confidence":1.4}`,
		`{"intent":"help","entities":"nope","confidence":0.9}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			c := mocks.NewMockCache()
			cl := newClassifier(&mocks.MockIntentProvider{ClassifyFunc: respond(body)}, c)
			res, err := cl.Classify(context.Background(), "hmm", nil)
			if err != nil {
				t.Fatalf("malformed answers must not fail the turn: %v", err)
			}
			if res.Intent != IntentHelp || !res.NeedsClarification || res.Confidence != 0 || res.ClarificationQuestion != FallbackQuestion {
				t.Errorf("unexpected fallback: %+v", res)
			}
			if len(c.Keys("")) != 0 {
				t.Errorf("fallback must not be cached")
			}
		})
	}
}

func TestClassifyFiltersEntities(t *testing.T) {
	provider := &mocks.MockIntentProvider{
		ClassifyFunc: respond("```json\n" + `{"intent":"update_profile","entities":[
			{"name":"field","value":"language"},
			{"name":"value","value":"Spanish"},
			{"name":"value","value":"French"},
			{"name":"mood","value":"happy"},
			{"name":"","value":"x"}
		],"confidence":0.9}` + "\n```"),
	}
	res, err := newClassifier(provider, nil).Classify(context.Background(), "set my language to spanish", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"field": "language", "value": "Spanish"}
	if len(res.Entities) != len(want) {
		t.Fatalf("entities = %v, want %v", res.Entities, want)
	}
	for k, v := range want {
		if res.Entities[k] != v {
			t.Errorf("entity %s = %q, want %q", k, res.Entities[k], v)
		}
	}
}

func TestClassifyAcceptsEntityObject(t *testing.T) {
	provider := &mocks.MockIntentProvider{
		ClassifyFunc: respond(`{"intent":"search_content","entities":{"query":"jazz"},"confidence":0.8}`),
	}
	res, err := newClassifier(provider, nil).Classify(context.Background(), "search for jazz", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Entities["query"] != "jazz" {
		t.Errorf("entities = %v", res.Entities)
	}
}

func TestClassifyUnknownIntentNotCached(t *testing.T) {
	provider := &mocks.MockIntentProvider{ClassifyFunc: respond(`{"intent":"book_flight","entities":[],"confidence":0.9}`)}
	c := mocks.NewMockCache()
	res, err := newClassifier(provider, c).Classify(context.Background(), "book a flight", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Intent != "book_flight" {
		t.Errorf("unknown intent should be passed to the router, got %s", res.Intent)
	}
	if len(c.Keys("")) != 0 {
		t.Errorf("unknown intents must not be cached")
	}
}

func TestClassifyPassesHistory(t *testing.T) {
	var got []domain.Turn
	provider := &mocks.MockIntentProvider{
		ClassifyFunc: func(_ context.Context, req ports.IntentRequest) ([]byte, error) {
			got = req.History
			return []byte(`{"intent":"help","entities":[],"confidence":0.9}`), nil
		},
	}
	history := []domain.Turn{{Intent: IntentGetProfile, At: time.Now()}}
	if _, err := newClassifier(provider, nil).Classify(context.Background(), "and then?", history); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Intent != IntentGetProfile {
		t.Errorf("history not forwarded: %v", got)
	}
}

func TestClassifyTimeoutsOpenBreaker(t *testing.T) {
	provider := &mocks.MockIntentProvider{
		ClassifyFunc: func(ctx context.Context, _ ports.IntentRequest) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	cl := newClassifier(provider, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cl.Classify(ctx, "show my profile", nil)
		var ce *domain.ClassificationError
		if !errors.As(err, &ce) || ce.Kind != domain.KindTimeout {
			t.Fatalf("call %d: expected timeout, got %v", i, err)
		}
	}

	start := time.Now()
	_, err := cl.Classify(ctx, "show my profile", nil)
	if !circuitbreaker.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Errorf("open circuit should short-circuit immediately")
	}
	if provider.Calls() != 5 {
		t.Errorf("expected 5 provider calls, got %d", provider.Calls())
	}
}

func TestClassifyEmptyText(t *testing.T) {
	provider := &mocks.MockIntentProvider{}
	res, err := newClassifier(provider, nil).Classify(context.Background(), "   ", nil)
	if err != nil || res.Intent != IntentHelp || !res.NeedsClarification {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
	if provider.Calls() != 0 {
		t.Errorf("empty text must not reach the provider")
	}
}
