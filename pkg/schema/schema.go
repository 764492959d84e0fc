// Package schema composes per-field validation rules into a schema keyed by
// field id. Rules come from a Registry of kind-specific generators, so new
// field kinds plug in without touching the composer.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
)

// ErrDuplicateField reports two descriptors sharing an id.
var ErrDuplicateField = errors.New("schema: duplicate field id")

// Schema is the composite rule set for a group of fields. Rules is never nil
// for schemas built by this package.
type Schema struct {
	Rules map[string]Rule
}

// Empty returns a schema without rules.
func Empty() Schema {
	return Schema{Rules: map[string]Rule{}}
}

// Compose derives one rule per field and collects them into a schema. The
// result depends only on the descriptors, never on their order.
func Compose(reg *Registry, fields []field.Descriptor) (Schema, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	out := Schema{Rules: make(map[string]Rule, len(fields))}
	for _, desc := range fields {
		if err := desc.Validate(); err != nil {
			return Schema{}, fmt.Errorf("schema: compose: %w", err)
		}
		if _, exists := out.Rules[desc.ID]; exists {
			return Schema{}, fmt.Errorf("%w: %q", ErrDuplicateField, desc.ID)
		}
		rule, err := reg.Generate(desc)
		if err != nil {
			return Schema{}, err
		}
		out.Rules[desc.ID] = rule
	}
	return out, nil
}

// MustCompose panics when composition fails.
func MustCompose(reg *Registry, fields []field.Descriptor) Schema {
	s, err := Compose(reg, fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Merge returns the union of s and others. Field ids are unique within a
// flow, so overlapping keys always carry equal rules and the union is
// associative and order independent.
func (s Schema) Merge(others ...Schema) Schema {
	size := len(s.Rules)
	for _, o := range others {
		size += len(o.Rules)
	}
	out := Schema{Rules: make(map[string]Rule, size)}
	for id, rule := range s.Rules {
		out.Rules[id] = rule
	}
	for _, o := range others {
		for id, rule := range o.Rules {
			out.Rules[id] = rule
		}
	}
	return out
}

// Restrict keeps only the rules for ids.
func (s Schema) Restrict(ids []string) Schema {
	out := Schema{Rules: make(map[string]Rule, len(ids))}
	for _, id := range ids {
		if rule, ok := s.Rules[id]; ok {
			out.Rules[id] = rule
		}
	}
	return out
}

// Rule returns the rule for id.
func (s Schema) Rule(id string) (Rule, bool) {
	rule, ok := s.Rules[id]
	return rule, ok
}

// Fields returns the field ids covered by the schema, sorted.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s.Rules))
	for id := range s.Rules {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of rules.
func (s Schema) Len() int { return len(s.Rules) }

// Validate checks answers against every rule. Answers for ids outside the
// schema are ignored. It returns a *ValidationError or nil.
func (s Schema) Validate(answers answer.Set) error {
	var issues []Issue
	for id, rule := range s.Rules {
		value, present := answers.Get(id)
		for _, msg := range dedupe(rule.Check(value, present)) {
			issues = append(issues, Issue{Field: id, Message: msg})
		}
	}
	if verr := newValidationError(issues); verr != nil {
		return verr
	}
	return nil
}

func dedupe(messages []string) []string {
	if len(messages) < 2 {
		return messages
	}
	seen := make(map[string]struct{}, len(messages))
	out := messages[:0:0]
	for _, msg := range messages {
		if _, ok := seen[msg]; ok {
			continue
		}
		seen[msg] = struct{}{}
		out = append(out, msg)
	}
	return out
}
