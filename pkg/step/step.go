// Package step derives ordered step definitions from a flat field list. Each
// definition carries its fields, an optional precondition and the schema
// composed for those fields. Definitions are values: when the source list
// changes they are derived again rather than patched.
package step

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/visibility"
	"github.com/goliatone/go-formflow/pkg/visibility/expr"
)

var (
	// ErrDuplicateField reports a field id used more than once in a flow.
	ErrDuplicateField = schema.ErrDuplicateField
	// ErrInvalidRule reports a visibility rule the evaluator cannot compile.
	ErrInvalidRule = errors.New("step: invalid visibility rule")
)

// DefaultLeadID names the lead step when its section has no id.
const DefaultLeadID = "lead"

// Definition describes one step of a flow.
type Definition struct {
	Index       int
	ID          string
	Title       string
	Description string
	Lead        bool
	// When is an optional precondition rule. An empty rule always holds.
	When   string
	Fields []field.Descriptor
	Schema schema.Schema
}

// Section supplies presentation data and a precondition for the step whose
// key matches ID.
type Section struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	When        string `json:"when,omitempty" yaml:"when,omitempty"`
}

// Lead is a fixed step prepended before the derived ones.
type Lead struct {
	Section Section            `json:"section" yaml:"section"`
	Fields  []field.Descriptor `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// StepID returns the id the lead step is derived with.
func (l Lead) StepID() string {
	if id := strings.TrimSpace(l.Section.ID); id != "" {
		return id
	}
	return DefaultLeadID
}

var defaultEvaluator = expr.New()

// DefaultEvaluator returns the shared expression evaluator used when callers
// do not supply one.
func DefaultEvaluator() visibility.Evaluator { return defaultEvaluator }

// FieldIDs lists the ids of the step's fields in order.
func (d Definition) FieldIDs() []string { return field.IDs(d.Fields) }

// HasField reports whether id belongs to the step.
func (d Definition) HasField(id string) bool {
	for _, f := range d.Fields {
		if f.ID == id {
			return true
		}
	}
	return false
}

// IsApplicable reports whether the step should be shown for ctx. A step is
// applicable when its precondition holds and it has at least one visible
// field. The lead step follows the same rule, so a lead without visible
// fields is skipped like any other step.
func (d Definition) IsApplicable(eval visibility.Evaluator, ctx visibility.Context) (bool, error) {
	eval = evaluatorOrDefault(eval)
	if ok, err := evalRule(eval, d.ID, d.When, ctx); err != nil || !ok {
		return false, err
	}
	for _, f := range d.Fields {
		ok, err := evalRule(eval, f.ID, f.VisibleWhen, ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ApplicableFields returns the fields whose visibility rule holds for ctx,
// in declaration order.
func (d Definition) ApplicableFields(eval visibility.Evaluator, ctx visibility.Context) ([]field.Descriptor, error) {
	eval = evaluatorOrDefault(eval)
	out := make([]field.Descriptor, 0, len(d.Fields))
	for _, f := range d.Fields {
		ok, err := evalRule(eval, f.ID, f.VisibleWhen, ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// ApplicableSchema narrows the step schema to the visible fields.
func (d Definition) ApplicableSchema(eval visibility.Evaluator, ctx visibility.Context) (schema.Schema, error) {
	fields, err := d.ApplicableFields(eval, ctx)
	if err != nil {
		return schema.Schema{}, err
	}
	return d.Schema.Restrict(field.IDs(fields)), nil
}

// ApplicableIndexes returns the indexes of the applicable steps in order.
func ApplicableIndexes(steps []Definition, eval visibility.Evaluator, ctx visibility.Context) ([]int, error) {
	var out []int
	for i, def := range steps {
		ok, err := def.IsApplicable(eval, ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, i)
		}
	}
	return out, nil
}

// Fields flattens the fields of every step, in order.
func Fields(steps []Definition) []field.Descriptor {
	var out []field.Descriptor
	for _, def := range steps {
		out = append(out, def.Fields...)
	}
	return out
}

// UnionSchema merges the schemas of every step.
func UnionSchema(steps []Definition) schema.Schema {
	out := schema.Empty()
	for _, def := range steps {
		out = out.Merge(def.Schema)
	}
	return out
}

// Context is a shorthand for visibility.ContextFor.
func Context(answers answer.Set, extras map[string]any) visibility.Context {
	return visibility.ContextFor(answers, extras)
}

func evaluatorOrDefault(eval visibility.Evaluator) visibility.Evaluator {
	if eval == nil {
		return defaultEvaluator
	}
	return eval
}

func evalRule(eval visibility.Evaluator, subject, rule string, ctx visibility.Context) (bool, error) {
	if strings.TrimSpace(rule) == "" {
		return true, nil
	}
	ok, err := eval.Eval(subject, rule, ctx)
	if err != nil {
		return false, fmt.Errorf("step: evaluate %q: %w", subject, err)
	}
	return ok, nil
}
