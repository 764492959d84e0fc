package definition

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/step"
)

type documentFile struct {
	Flows map[string]flowFile `json:"flows" yaml:"flows"`
}

type flowFile struct {
	Title  string        `json:"title" yaml:"title"`
	Lead   *sectionFile  `json:"lead" yaml:"lead"`
	Steps  []sectionFile `json:"steps" yaml:"steps"`
	Fields []fieldFile   `json:"fields" yaml:"fields"`
}

type sectionFile struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	When        string      `json:"when" yaml:"when"`
	Fields      []fieldFile `json:"fields" yaml:"fields"`
}

func (s sectionFile) section() step.Section {
	return step.Section{
		ID:          strings.TrimSpace(s.ID),
		Title:       strings.TrimSpace(s.Title),
		Description: strings.TrimSpace(s.Description),
		When:        strings.TrimSpace(s.When),
	}
}

// fieldFile is the flat document form of a field descriptor: constraints sit
// next to the identity keys.
type fieldFile struct {
	ID          string       `json:"id" yaml:"id"`
	Kind        string       `json:"kind" yaml:"kind"`
	Label       string       `json:"label" yaml:"label"`
	Help        string       `json:"help" yaml:"help"`
	Step        string       `json:"step" yaml:"step"`
	VisibleWhen string       `json:"visibleWhen" yaml:"visibleWhen"`
	Required    bool         `json:"required" yaml:"required"`
	MinLength   *int         `json:"minLength" yaml:"minLength"`
	MaxLength   *int         `json:"maxLength" yaml:"maxLength"`
	Pattern     string       `json:"pattern" yaml:"pattern"`
	Min         *float64     `json:"min" yaml:"min"`
	Max         *float64     `json:"max" yaml:"max"`
	Options     []optionFile `json:"options" yaml:"options"`
	MinItems    *int         `json:"minItems" yaml:"minItems"`
	MaxItems    *int         `json:"maxItems" yaml:"maxItems"`
	MaxBytes    int64        `json:"maxBytes" yaml:"maxBytes"`
	Accept      []string     `json:"accept" yaml:"accept"`
	Layout      string       `json:"layout" yaml:"layout"`
	Multiline   bool         `json:"multiline" yaml:"multiline"`
}

func (f fieldFile) descriptor() field.Descriptor {
	desc := field.Descriptor{
		ID:          strings.TrimSpace(f.ID),
		Kind:        field.Kind(strings.ToLower(strings.TrimSpace(f.Kind))),
		Label:       strings.TrimSpace(f.Label),
		Help:        strings.TrimSpace(f.Help),
		Step:        strings.TrimSpace(f.Step),
		VisibleWhen: strings.TrimSpace(f.VisibleWhen),
		Constraints: field.Constraints{
			Required:  f.Required,
			MinLength: f.MinLength,
			MaxLength: f.MaxLength,
			Pattern:   f.Pattern,
			Min:       f.Min,
			Max:       f.Max,
			MinItems:  f.MinItems,
			MaxItems:  f.MaxItems,
			MaxBytes:  f.MaxBytes,
			Layout:    strings.TrimSpace(f.Layout),
			Multiline: f.Multiline,
		},
	}
	if len(f.Accept) > 0 {
		desc.Constraints.Accept = append([]string(nil), f.Accept...)
	}
	for _, opt := range f.Options {
		desc.Constraints.Options = append(desc.Constraints.Options, field.Option(opt))
	}
	return desc
}

// optionFile accepts either a bare value or a {value, label} object.
type optionFile struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

func (o *optionFile) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*o = optionFile{Value: bare}
		return nil
	}
	type plain optionFile
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("definition: option must be a string or {value, label}: %w", err)
	}
	*o = optionFile(obj)
	return nil
}

func (o *optionFile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*o = optionFile{Value: node.Value}
		return nil
	}
	type plain optionFile
	var obj plain
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("definition: option must be a string or {value, label}: %w", err)
	}
	*o = optionFile(obj)
	return nil
}
