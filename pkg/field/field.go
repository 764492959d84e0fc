package field

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the question type of a field. Rule generators and answer
// transformers are registered per kind.
type Kind string

const (
	KindText        Kind = "text"
	KindNumber      Kind = "number"
	KindBoolean     Kind = "boolean"
	KindDate        Kind = "date"
	KindChoice      Kind = "choice"
	KindMultiChoice Kind = "multi-choice"
	KindRating      Kind = "rating"
	KindFile        Kind = "file"
)

// BuiltinKinds lists the kinds shipped with the default registries.
func BuiltinKinds() []Kind {
	return []Kind{
		KindText,
		KindNumber,
		KindBoolean,
		KindDate,
		KindChoice,
		KindMultiChoice,
		KindRating,
		KindFile,
	}
}

// Option is one selectable value for choice, multi-choice and rating fields.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Constraints holds kind-specific parameters. Generators read only the
// members relevant to their kind; the rest stay zero.
type Constraints struct {
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Options   []Option `json:"options,omitempty" yaml:"options,omitempty"`
	MinItems  *int     `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems  *int     `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
	MaxBytes  int64    `json:"maxBytes,omitempty" yaml:"maxBytes,omitempty"`
	Accept    []string `json:"accept,omitempty" yaml:"accept,omitempty"`
	Layout    string   `json:"layout,omitempty" yaml:"layout,omitempty"`
	Multiline bool     `json:"multiline,omitempty" yaml:"multiline,omitempty"`
}

// Descriptor is the static description of one input. Descriptors are values:
// once a flow is built from them they are never mutated.
type Descriptor struct {
	ID          string      `json:"id" yaml:"id"`
	Kind        Kind        `json:"kind" yaml:"kind"`
	Label       string      `json:"label,omitempty" yaml:"label,omitempty"`
	Help        string      `json:"help,omitempty" yaml:"help,omitempty"`
	Step        string      `json:"step,omitempty" yaml:"step,omitempty"`
	VisibleWhen string      `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`
	Constraints Constraints `json:"constraints" yaml:"constraints"`
}

// DefaultDateLayout is used when a date field does not declare one.
const DefaultDateLayout = "2006-01-02"

var (
	// ErrMissingID reports a descriptor without an id.
	ErrMissingID = errors.New("field: id is required")
	// ErrMissingKind reports a descriptor without a kind.
	ErrMissingKind = errors.New("field: kind is required")
)

// Validate performs the structural checks every descriptor must pass
// regardless of kind.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(string(d.Kind)) == "" {
		return fmt.Errorf("%w (field %q)", ErrMissingKind, d.ID)
	}
	return nil
}

// DisplayLabel returns the label or falls back to the id.
func (d Descriptor) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.ID
}

// DateLayout returns the configured layout or DefaultDateLayout.
func (d Descriptor) DateLayout() string {
	if layout := strings.TrimSpace(d.Constraints.Layout); layout != "" {
		return layout
	}
	return DefaultDateLayout
}

// OptionLabel resolves the label for an option value, falling back to the
// value itself.
func (d Descriptor) OptionLabel(value string) string {
	for _, opt := range d.Constraints.Options {
		if opt.Value == value {
			if opt.Label != "" {
				return opt.Label
			}
			return opt.Value
		}
	}
	return value
}

// OptionValues returns the option values in declaration order.
func (d Descriptor) OptionValues() []string {
	if len(d.Constraints.Options) == 0 {
		return nil
	}
	out := make([]string, len(d.Constraints.Options))
	for i, opt := range d.Constraints.Options {
		out[i] = opt.Value
	}
	return out
}

// IDs returns the ids of the supplied descriptors in order.
func IDs(fields []Descriptor) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.ID
	}
	return out
}

// Kinds returns the distinct kinds used by fields, in first-seen order.
func Kinds(fields []Descriptor) []Kind {
	seen := make(map[Kind]struct{}, len(fields))
	var out []Kind
	for _, f := range fields {
		if _, ok := seen[f.Kind]; ok {
			continue
		}
		seen[f.Kind] = struct{}{}
		out = append(out, f.Kind)
	}
	return out
}

// IntPtr and FloatPtr help build constraint literals.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }
