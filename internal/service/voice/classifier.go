package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/cache"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

const (
	FallbackQuestion       = "I'm not sure I understood. Can you rephrase that?"
	defaultClarifyQuestion = "Could you tell me a bit more about what you'd like to do?"
)

type ClassifierConfig struct {
	ConfidenceThreshold float64
	CacheTTL            time.Duration
	Timeout             time.Duration
}

// Classifier maps an utterance onto the intent registry.
type Classifier struct {
	provider ports.IntentProvider
	breaker  *circuitbreaker.CircuitBreaker
	registry *Registry
	cache    ports.Cache
	cfg      ClassifierConfig
	log      *zap.Logger
}

func NewClassifier(provider ports.IntentProvider, breaker *circuitbreaker.CircuitBreaker, registry *Registry, c ports.Cache, cfg ClassifierConfig, log *zap.Logger) *Classifier {
	return &Classifier{
		provider: provider,
		breaker:  breaker,
		registry: registry,
		cache:    c,
		cfg:      cfg,
		log:      log.With(zap.String("component", "classifier")),
	}
}

func (c *Classifier) Registry() *Registry { return c.registry }

// NormalizeText case-folds and collapses whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Classify returns the intent for text. A provider answer that does not
// match the schema yields a low-confidence help intent and no error.
func (c *Classifier) Classify(ctx context.Context, text string, history []domain.Turn) (*domain.IntentResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "voice.classify")
	start := time.Now()

	result, err := c.classify(ctx, text, history)
	if result != nil {
		span.SetAttributes(
			attribute.String("intent", result.Intent),
			attribute.Float64("confidence", result.Confidence),
		)
	}
	finishStage(StageClassify, start, span, err)
	return result, err
}

func (c *Classifier) classify(ctx context.Context, text string, history []domain.Turn) (*domain.IntentResult, error) {
	normalized := NormalizeText(text)
	if normalized == "" {
		return c.fallback(), nil
	}

	key := cache.Key(cache.OpIntent, c.registry.Version, normalized)
	if c.cache != nil {
		if cached, ok := cache.LookupJSON[domain.IntentResult](ctx, c.cache, cache.OpIntent, key, c.log); ok {
			return &cached, nil
		}
	}

	raw, err := circuitbreaker.ExecuteWithResult(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
		return c.provider.Classify(ctx, ports.IntentRequest{
			Instructions: c.registry.Instructions(),
			Intents:      c.registry.Names(),
			Text:         strings.Join(strings.Fields(text), " "),
			History:      history,
		})
	})
	if err != nil {
		if circuitbreaker.Rejected(err) {
			return nil, &domain.ClassificationError{Kind: domain.KindProviderError, Err: err}
		}
		return nil, &domain.ClassificationError{Kind: domain.ClassifyCallError(err), Err: err}
	}

	result, err := c.parse(raw)
	if err != nil {
		telemetry.MalformedIntents.Inc()
		c.log.Warn("Malformed intent response, falling back to help",
			zap.String("provider", c.provider.Name()),
			zap.String("error_kind", string(domain.KindMalformedResponse)),
			zap.Error(err),
		)
		return c.fallback(), nil
	}

	if result.Confidence < c.cfg.ConfidenceThreshold {
		result.NeedsClarification = true
		if result.ClarificationQuestion == "" {
			result.ClarificationQuestion = defaultClarifyQuestion
		}
	} else {
		result.NeedsClarification = false
		result.ClarificationQuestion = ""
	}

	if c.cache != nil && !result.NeedsClarification {
		if _, known := c.registry.Lookup(result.Intent); known {
			cache.StoreJSON(ctx, c.cache, cache.OpIntent, key, result, c.cfg.CacheTTL, c.log)
		}
	}
	return result, nil
}

func (c *Classifier) fallback() *domain.IntentResult {
	return &domain.IntentResult{
		Intent:                IntentHelp,
		Entities:              map[string]string{},
		Confidence:            0,
		NeedsClarification:    true,
		ClarificationQuestion: FallbackQuestion,
		RegistryVersion:       c.registry.Version,
	}
}

type providerEntity struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type providerIntent struct {
	Intent                string          `json:"intent"`
	Entities              json.RawMessage `json:"entities"`
	Confidence            *float64        `json:"confidence"`
	ClarificationQuestion string          `json:"clarification_question"`
}

func (c *Classifier) parse(raw []byte) (*domain.IntentResult, error) {
	raw = stripCodeFence(raw)

	var p providerIntent
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if strings.TrimSpace(p.Intent) == "" {
		return nil, errors.New("missing intent")
	}
	if p.Confidence == nil {
		return nil, errors.New("missing confidence")
	}
	if *p.Confidence < 0 || *p.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", *p.Confidence)
	}

	pairs, err := decodeEntities(p.Entities)
	if err != nil {
		return nil, err
	}

	intent := strings.TrimSpace(p.Intent)
	var allowed map[string]bool
	if spec, ok := c.registry.Lookup(intent); ok {
		allowed = make(map[string]bool, len(spec.Entities))
		for _, name := range spec.Entities {
			allowed[name] = true
		}
	}

	entities := make(map[string]string, len(pairs))
	for _, e := range pairs {
		name := strings.TrimSpace(e.Name)
		value := strings.TrimSpace(e.Value)
		if name == "" || value == "" {
			continue
		}
		if allowed != nil && !allowed[name] {
			continue
		}
		if _, dup := entities[name]; dup {
			continue
		}
		entities[name] = value
	}

	return &domain.IntentResult{
		Intent:                intent,
		Entities:              entities,
		Confidence:            *p.Confidence,
		ClarificationQuestion: strings.TrimSpace(p.ClarificationQuestion),
		RegistryVersion:       c.registry.Version,
	}, nil
}

// decodeEntities accepts the schema's list of name/value pairs and, for
// providers that ignore it, a plain object.
func decodeEntities(raw json.RawMessage) ([]providerEntity, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var list []providerEntity
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	list = make([]providerEntity, 0, len(obj))
	for k, v := range obj {
		list = append(list, providerEntity{Name: k, Value: v})
	}
	return list, nil
}

func stripCodeFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	s = bytes.TrimPrefix(s, []byte("json"))
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
