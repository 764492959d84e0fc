// Package testsupport holds fixture and golden-file helpers shared by the
// package tests.
package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/definition"
	"github.com/goliatone/go-formflow/pkg/source"
	"github.com/goliatone/go-formflow/pkg/step"
)

// StepOutline is the golden form of a derived step: identity, rule and the
// field ids it owns.
type StepOutline struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Lead        bool     `json:"lead,omitempty"`
	When        string   `json:"when,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// Outline reduces derived steps to their golden form.
func Outline(steps []step.Definition) []StepOutline {
	out := make([]StepOutline, len(steps))
	for i, def := range steps {
		out[i] = StepOutline{
			ID:          def.ID,
			Title:       def.Title,
			Description: def.Description,
			Lead:        def.Lead,
			When:        def.When,
		}
		if ids := def.FieldIDs(); len(ids) > 0 {
			out[i].Fields = ids
		}
	}
	return out
}

// MustLoadFlow reads the definition directory and returns flow id.
func MustLoadFlow(t *testing.T, dir, id string) definition.Flow {
	t.Helper()

	flow, err := LoadFlow(dir, id)
	if err != nil {
		t.Fatalf("load flow: %v", err)
	}
	return flow
}

// LoadFlow returns flow id from dir without requiring testing.T.
func LoadFlow(dir, id string) (definition.Flow, error) {
	if dir == "" {
		return definition.Flow{}, errors.New("testsupport: definition directory is required")
	}
	store, err := definition.LoadFS(os.DirFS(dir))
	if err != nil {
		return definition.Flow{}, fmt.Errorf("testsupport: load definitions: %w", err)
	}
	flow, ok := store.Flow(id)
	if !ok {
		return definition.Flow{}, fmt.Errorf("testsupport: flow %q not found in %s", id, dir)
	}
	return flow, nil
}

// MustDerive snapshots p and derives its steps with the default options.
func MustDerive(t *testing.T, p source.Provider) []step.Definition {
	t.Helper()

	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	steps, err := step.Derive(snap.Fields, snap.DeriveOptions()...)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return steps
}

// WriteGolden writes value as indented JSON when UPDATE_GOLDENS is set.
// Returns true if the golden was written.
func WriteGolden(t *testing.T, path string, value any) bool {
	t.Helper()

	if os.Getenv("UPDATE_GOLDENS") == "" {
		return false
	}
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir golden dir: %v", err)
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		t.Fatalf("write golden: %v", err)
	}
	return true
}

// MustLoadGolden decodes a JSON golden file into target.
func MustLoadGolden(t *testing.T, path string, target any) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("unmarshal golden: %v", err)
	}
}

// CompareGolden returns a diff string if the values differ.
func CompareGolden(want, got any) string {
	return cmp.Diff(want, got)
}
