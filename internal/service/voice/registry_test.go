package voice

import (
	"strings"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if r.Version == "" {
		t.Error("missing version")
	}

	for _, name := range []string{IntentHelp, IntentGreeting, IntentGetProfile, IntentUpdateProfile, IntentSearchContent, IntentEndSession} {
		if _, ok := r.Lookup(name); !ok {
			t.Errorf("intent %s missing", name)
		}
	}

	spec, _ := r.Lookup(IntentUpdateProfile)
	if spec.RequiredScope != "profile:write" {
		t.Errorf("update_profile should require profile:write, got %q", spec.RequiredScope)
	}

	instr := r.Instructions()
	for _, want := range []string{"get_profile", "show my profile", r.Version} {
		if !strings.Contains(instr, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestParseRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no version", "intents:\n  - name: help\n"},
		{"duplicate", "version: v1\nintents:\n  - name: help\n  - name: help\n"},
		{"no help", "version: v1\nintents:\n  - name: greeting\n"},
		{"unnamed", "version: v1\nintents:\n  - description: x\n"},
		{"bad yaml", "version: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRegistry([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, err := LoadRegistry("/nonexistent/intents.yaml"); err == nil {
		t.Fatal("expected error")
	}
}
