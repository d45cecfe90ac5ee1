package voice

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	IntentHelp          = "help"
	IntentGreeting      = "greeting"
	IntentGetProfile    = "get_profile"
	IntentUpdateProfile = "update_profile"
	IntentSearchContent = "search_content"
	IntentEndSession    = "end_session"
)

//go:embed intents.yaml
var defaultIntents []byte

// IntentSpec is one entry of the closed intent set.
type IntentSpec struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Entities      []string `yaml:"entities"`
	Examples      []string `yaml:"examples"`
	RequiredScope string   `yaml:"required_scope"`
	Keywords      []string `yaml:"keywords"`
	Patterns      []string `yaml:"patterns"`
}

// Registry is the versioned set of intents the classifier may return.
type Registry struct {
	Version string       `yaml:"version"`
	Intents []IntentSpec `yaml:"intents"`

	byName map[string]*IntentSpec
}

func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultIntents)
}

// LoadRegistry reads a registry file, or the built-in one when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents file: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse intents: %w", err)
	}
	if r.Version == "" {
		return nil, fmt.Errorf("intents: version is required")
	}

	r.byName = make(map[string]*IntentSpec, len(r.Intents))
	for i := range r.Intents {
		spec := &r.Intents[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("intents: entry %d has no name", i)
		}
		if _, dup := r.byName[spec.Name]; dup {
			return nil, fmt.Errorf("intents: duplicate intent %q", spec.Name)
		}
		r.byName[spec.Name] = spec
	}
	if _, ok := r.byName[IntentHelp]; !ok {
		return nil, fmt.Errorf("intents: %q intent is required", IntentHelp)
	}
	return &r, nil
}

func (r *Registry) Lookup(name string) (*IntentSpec, bool) {
	spec, ok := r.byName[name]
	return spec, ok
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.Intents))
	for i, spec := range r.Intents {
		names[i] = spec.Name
	}
	return names
}

// Instructions renders the registry as the system instruction for the
// classification model.
func (r *Registry) Instructions() string {
	var b strings.Builder
	b.WriteString("You classify a single spoken utterance from a voice assistant user into exactly one intent.\n")
	fmt.Fprintf(&b, "Intent registry version %s. Allowed intents:\n\n", r.Version)
	for _, spec := range r.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		if len(spec.Entities) > 0 {
			fmt.Fprintf(&b, "  entities: %s\n", strings.Join(spec.Entities, ", "))
		}
		for _, ex := range spec.Examples {
			fmt.Fprintf(&b, "  example: %q\n", ex)
		}
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Answer only with the JSON object described by the response schema.\n")
	b.WriteString("- Use only the intents and entity names listed above. Omit entities that were not said.\n")
	b.WriteString("- confidence is your probability in [0,1] that the intent is correct.\n")
	b.WriteString("- If the utterance is ambiguous, lower the confidence and put a short question in clarification_question.\n")
	return b.String()
}
