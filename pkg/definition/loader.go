// Package definition loads flow definitions from JSON or YAML documents. Each
// file may declare several flows; the loaded flows act as field-source
// providers for the engine.
package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/source"
	"github.com/goliatone/go-formflow/pkg/step"
)

// Store holds the flows parsed from a filesystem.
type Store struct {
	flows map[string]Flow
}

// Flow is one parsed flow definition.
type Flow struct {
	ID       string
	Title    string
	Source   string
	Lead     *step.Lead
	Sections []step.Section
	Fields   []field.Descriptor
}

var _ source.Provider = Flow{}

// Snapshot implements source.Provider.
func (f Flow) Snapshot(ctx context.Context) (source.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return source.Snapshot{}, err
	}
	snap := source.Snapshot{
		Sections: append([]step.Section(nil), f.Sections...),
		Fields:   append([]field.Descriptor(nil), f.Fields...),
	}
	if f.Lead != nil {
		lead := *f.Lead
		lead.Fields = append([]field.Descriptor(nil), f.Lead.Fields...)
		snap.Lead = &lead
	}
	return snap, nil
}

// LoadFS walks fsys and parses every .json, .yaml and .yml file. A nil fsys
// yields an empty store.
func LoadFS(fsys fs.FS) (*Store, error) {
	store := &Store{flows: make(map[string]Flow)}
	if fsys == nil {
		return store, nil
	}

	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isDefinitionFile(path) {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("definition: read %s: %w", path, err)
		}
		doc, err := parseDocument(data, path)
		if err != nil {
			return err
		}

		for rawID, raw := range doc.Flows {
			id := strings.TrimSpace(rawID)
			if id == "" {
				return fmt.Errorf("definition: file %s defines an empty flow id", path)
			}
			if _, exists := store.flows[id]; exists {
				return fmt.Errorf("definition: duplicate flow %q (file %s)", id, path)
			}
			flow, err := normaliseFlow(raw, id, path)
			if err != nil {
				return err
			}
			store.flows[id] = flow
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Flow returns the flow with id.
func (s *Store) Flow(id string) (Flow, bool) {
	if s == nil {
		return Flow{}, false
	}
	f, ok := s.flows[id]
	return f, ok
}

// IDs lists the loaded flow ids, sorted.
func (s *Store) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.flows))
	for id := range s.flows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether the store holds any flows.
func (s *Store) Empty() bool {
	return s == nil || len(s.flows) == 0
}

func parseDocument(data []byte, path string) (documentFile, error) {
	var doc documentFile
	if len(strings.TrimSpace(string(data))) == 0 {
		return documentFile{}, fmt.Errorf("definition: file %s is empty", path)
	}
	if err := json.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}
	doc = documentFile{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return documentFile{}, fmt.Errorf("definition: parse %s: invalid JSON or YAML: %w", path, err)
	}
	return doc, nil
}

func normaliseFlow(raw flowFile, id, path string) (Flow, error) {
	flow := Flow{
		ID:     id,
		Title:  strings.TrimSpace(raw.Title),
		Source: path,
	}

	if raw.Lead != nil {
		fields, err := normaliseFields(raw.Lead.Fields, id, path)
		if err != nil {
			return Flow{}, err
		}
		flow.Lead = &step.Lead{Section: raw.Lead.section(), Fields: fields}
	}

	seen := make(map[string]struct{}, len(raw.Steps))
	for _, s := range raw.Steps {
		section := s.section()
		if section.ID == "" {
			return Flow{}, fmt.Errorf("definition: flow %q (file %s) has a step without id", id, path)
		}
		if _, dup := seen[section.ID]; dup {
			return Flow{}, fmt.Errorf("definition: flow %q (file %s) defines step %q twice", id, path, section.ID)
		}
		seen[section.ID] = struct{}{}
		flow.Sections = append(flow.Sections, section)
	}

	fields, err := normaliseFields(raw.Fields, id, path)
	if err != nil {
		return Flow{}, err
	}
	if len(fields) == 0 && flow.Lead == nil {
		return Flow{}, fmt.Errorf("definition: flow %q (file %s) has no fields", id, path)
	}
	flow.Fields = fields
	return flow, nil
}

func normaliseFields(raw []fieldFile, flowID, path string) ([]field.Descriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]field.Descriptor, 0, len(raw))
	for idx, f := range raw {
		desc := f.descriptor()
		if err := desc.Validate(); err != nil {
			return nil, fmt.Errorf("definition: flow %q (file %s) field %d: %w", flowID, path, idx, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
