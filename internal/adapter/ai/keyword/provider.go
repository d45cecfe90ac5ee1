// Package keyword is an offline intent provider that matches utterances
// against keyword lists and regular expressions. It answers in the same
// JSON shape as the LLM provider and is used when no LLM key is configured.
package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
)

const (
	patternConfidence = 0.95
	keywordConfidence = 0.85
	fallbackIntent    = "help"
)

// Rule describes how to recognise one intent. Patterns may use named groups
// to extract entities.
type Rule struct {
	Intent   string
	Keywords []string
	Patterns []string
}

type compiledRule struct {
	intent   string
	keywords []string
	patterns []*regexp.Regexp
}

type Provider struct {
	rules []compiledRule
	log   *zap.Logger
}

// NewProvider compiles rules. Rules are tried in order and the first match
// wins, patterns before keywords.
func NewProvider(rules []Rule, log *zap.Logger) (*Provider, error) {
	p := &Provider{log: log}
	for _, r := range rules {
		cr := compiledRule{intent: r.Intent}
		for _, k := range r.Keywords {
			cr.keywords = append(cr.keywords, strings.ToLower(k))
		}
		for _, expr := range r.Patterns {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("intent %s: invalid pattern %q: %w", r.Intent, expr, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		p.rules = append(p.rules, cr)
	}
	return p, nil
}

// RulesFromRegistry derives one rule per registered intent, in registry
// order.
func RulesFromRegistry(reg *voice.Registry) []Rule {
	rules := make([]Rule, 0, len(reg.Intents))
	for _, spec := range reg.Intents {
		rules = append(rules, Rule{
			Intent:   spec.Name,
			Keywords: spec.Keywords,
			Patterns: spec.Patterns,
		})
	}
	return rules
}

func (p *Provider) Name() string { return "keyword" }

type entity struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type answer struct {
	Intent     string   `json:"intent"`
	Entities   []entity `json:"entities"`
	Confidence float64  `json:"confidence"`
}

func (p *Provider) Classify(ctx context.Context, req ports.IntentRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(p.match(req.Text))
}

func (p *Provider) match(text string) answer {
	lower := strings.ToLower(strings.TrimSpace(text))

	for _, r := range p.rules {
		for _, re := range r.patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			entities := []entity{}
			for i, name := range re.SubexpNames() {
				if name != "" && m[i] != "" {
					entities = append(entities, entity{Name: name, Value: strings.TrimSpace(m[i])})
				}
			}
			return answer{Intent: r.intent, Entities: entities, Confidence: patternConfidence}
		}
	}

	for _, r := range p.rules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return answer{Intent: r.intent, Entities: []entity{}, Confidence: keywordConfidence}
			}
		}
	}

	return answer{Intent: fallbackIntent, Entities: []entity{}, Confidence: 0}
}
