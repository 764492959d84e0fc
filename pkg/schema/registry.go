package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/pkg/field"
)

// Generator derives the rule for one field from its kind and constraints.
// Generators must be pure: the same descriptor always yields an equal rule.
type Generator interface {
	Generate(desc field.Descriptor) (Rule, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(desc field.Descriptor) (Rule, error)

// Generate implements Generator.
func (fn GeneratorFunc) Generate(desc field.Descriptor) (Rule, error) {
	return fn(desc)
}

// Registry maps field kinds to rule generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[field.Kind]Generator
}

// NewRegistry returns a registry preloaded with generators for every builtin
// kind.
func NewRegistry() *Registry {
	reg := NewEmptyRegistry()
	for kind, gen := range builtinGenerators() {
		reg.generators[kind] = gen
	}
	return reg
}

// NewEmptyRegistry returns a registry without generators.
func NewEmptyRegistry() *Registry {
	return &Registry{generators: make(map[field.Kind]Generator)}
}

// Register adds a generator for kind. Duplicate kinds return an error; use
// Replace to override a builtin.
func (r *Registry) Register(kind field.Kind, gen Generator) error {
	if err := checkRegistration(kind, gen); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.generators[kind]; exists {
		return fmt.Errorf("schema: generator for kind %q already registered", kind)
	}
	r.generators[kind] = gen
	return nil
}

// MustRegister panics on registration failure. Useful for init-time wiring.
func (r *Registry) MustRegister(kind field.Kind, gen Generator) {
	if err := r.Register(kind, gen); err != nil {
		panic(err)
	}
}

// Replace installs gen for kind whether or not one exists.
func (r *Registry) Replace(kind field.Kind, gen Generator) error {
	if err := checkRegistration(kind, gen); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[kind] = gen
	return nil
}

// Lookup returns the generator for kind.
func (r *Registry) Lookup(kind field.Kind) (Generator, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.generators[kind]
	return gen, ok
}

// Has reports whether kind has a generator.
func (r *Registry) Has(kind field.Kind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []field.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]field.Kind, 0, len(r.generators))
	for kind := range r.generators {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Generate runs the generator registered for desc.Kind.
func (r *Registry) Generate(desc field.Descriptor) (Rule, error) {
	gen, ok := r.Lookup(desc.Kind)
	if !ok {
		return Rule{}, &UnknownFieldKindError{FieldID: desc.ID, Kind: desc.Kind}
	}
	rule, err := gen.Generate(desc)
	if err != nil {
		var constraintErr *InvalidConstraintError
		if errors.As(err, &constraintErr) {
			return Rule{}, err
		}
		return Rule{}, &InvalidConstraintError{FieldID: desc.ID, Reason: err.Error()}
	}
	rule.Field = desc.ID
	if rule.Kind == "" {
		rule.Kind = desc.Kind
	}
	return rule, nil
}

func checkRegistration(kind field.Kind, gen Generator) error {
	if strings.TrimSpace(string(kind)) == "" {
		return fmt.Errorf("schema: generator kind is required")
	}
	if gen == nil {
		return fmt.Errorf("schema: generator for kind %q is nil", kind)
	}
	return nil
}

func builtinGenerators() map[field.Kind]Generator {
	return map[field.Kind]Generator{
		field.KindText:        GeneratorFunc(textRule),
		field.KindNumber:      GeneratorFunc(numberRule),
		field.KindBoolean:     GeneratorFunc(baseRule),
		field.KindDate:        GeneratorFunc(baseRule),
		field.KindChoice:      GeneratorFunc(choiceRule),
		field.KindMultiChoice: GeneratorFunc(multiChoiceRule),
		field.KindRating:      GeneratorFunc(ratingRule),
		field.KindFile:        GeneratorFunc(fileRule),
	}
}

// baseRule carries only the required flag.
func baseRule(desc field.Descriptor) (Rule, error) {
	return Rule{
		Field:    desc.ID,
		Kind:     desc.Kind,
		Required: desc.Constraints.Required,
	}, nil
}

func textRule(desc field.Descriptor) (Rule, error) {
	rule, _ := baseRule(desc)
	c := desc.Constraints
	if c.MinLength != nil && *c.MinLength < 0 {
		return Rule{}, invalidConstraint(desc.ID, "minLength %d is negative", *c.MinLength)
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		return Rule{}, invalidConstraint(desc.ID, "minLength %d exceeds maxLength %d", *c.MinLength, *c.MaxLength)
	}
	if c.Pattern != "" {
		if _, err := compilePattern(c.Pattern); err != nil {
			return Rule{}, invalidConstraint(desc.ID, "pattern: %v", err)
		}
	}
	rule.MinLength = copyInt(c.MinLength)
	rule.MaxLength = copyInt(c.MaxLength)
	rule.Pattern = c.Pattern
	return rule, nil
}

func numberRule(desc field.Descriptor) (Rule, error) {
	rule, _ := baseRule(desc)
	c := desc.Constraints
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return Rule{}, invalidConstraint(desc.ID, "min %v exceeds max %v", *c.Min, *c.Max)
	}
	rule.Min = copyFloat(c.Min)
	rule.Max = copyFloat(c.Max)
	return rule, nil
}

func choiceRule(desc field.Descriptor) (Rule, error) {
	rule, _ := baseRule(desc)
	values := desc.OptionValues()
	if len(values) == 0 {
		return Rule{}, invalidConstraint(desc.ID, "%s field needs options", desc.Kind)
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			return Rule{}, invalidConstraint(desc.ID, "duplicate option %q", v)
		}
		seen[v] = struct{}{}
	}
	rule.Options = values
	return rule, nil
}

func multiChoiceRule(desc field.Descriptor) (Rule, error) {
	rule, err := choiceRule(desc)
	if err != nil {
		return Rule{}, err
	}
	c := desc.Constraints
	if c.MinItems != nil && c.MaxItems != nil && *c.MinItems > *c.MaxItems {
		return Rule{}, invalidConstraint(desc.ID, "minItems %d exceeds maxItems %d", *c.MinItems, *c.MaxItems)
	}
	if c.MaxItems != nil && *c.MaxItems > len(rule.Options) {
		return Rule{}, invalidConstraint(desc.ID, "maxItems %d exceeds option count %d", *c.MaxItems, len(rule.Options))
	}
	rule.MinItems = copyInt(c.MinItems)
	rule.MaxItems = copyInt(c.MaxItems)
	return rule, nil
}

// Default rating scale when constraints leave it open.
const (
	DefaultRatingMin = 1
	DefaultRatingMax = 5
)

func ratingRule(desc field.Descriptor) (Rule, error) {
	rule, _ := baseRule(desc)
	lo, hi := float64(DefaultRatingMin), float64(DefaultRatingMax)
	if desc.Constraints.Min != nil {
		lo = *desc.Constraints.Min
	}
	if desc.Constraints.Max != nil {
		hi = *desc.Constraints.Max
	}
	if lo > hi {
		return Rule{}, invalidConstraint(desc.ID, "rating scale %v..%v is empty", lo, hi)
	}
	rule.Min = &lo
	rule.Max = &hi
	rule.Integer = true
	return rule, nil
}

func fileRule(desc field.Descriptor) (Rule, error) {
	rule, _ := baseRule(desc)
	c := desc.Constraints
	if c.MaxBytes < 0 {
		return Rule{}, invalidConstraint(desc.ID, "maxBytes %d is negative", c.MaxBytes)
	}
	rule.MaxBytes = c.MaxBytes
	if len(c.Accept) > 0 {
		rule.Accept = append([]string(nil), c.Accept...)
	}
	return rule, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
