package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
)

// Registry maps field kinds to transformers.
type Registry struct {
	mu           sync.RWMutex
	transformers map[field.Kind]Transformer
}

// NewRegistry returns a registry with the builtin transformers. File answers
// are inlined; swap in NewUploadTransformer with Replace to store them
// externally.
func NewRegistry() *Registry {
	reg := NewEmptyRegistry()
	for kind, t := range builtinTransformers() {
		reg.transformers[kind] = t
	}
	return reg
}

// NewEmptyRegistry returns a registry without transformers.
func NewEmptyRegistry() *Registry {
	return &Registry{transformers: make(map[field.Kind]Transformer)}
}

// Register adds t for kind. Duplicate kinds return an error.
func (r *Registry) Register(kind field.Kind, t Transformer) error {
	if err := checkRegistration(kind, t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transformers[kind]; exists {
		return fmt.Errorf("transform: transformer for kind %q already registered", kind)
	}
	r.transformers[kind] = t
	return nil
}

// MustRegister panics on registration failure.
func (r *Registry) MustRegister(kind field.Kind, t Transformer) {
	if err := r.Register(kind, t); err != nil {
		panic(err)
	}
}

// Replace installs t for kind whether or not one exists.
func (r *Registry) Replace(kind field.Kind, t Transformer) error {
	if err := checkRegistration(kind, t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[kind] = t
	return nil
}

// Lookup returns the transformer for kind.
func (r *Registry) Lookup(kind field.Kind) (Transformer, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transformers[kind]
	return t, ok
}

// Has reports whether kind has a transformer.
func (r *Registry) Has(kind field.Kind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []field.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]field.Kind, 0, len(r.transformers))
	for kind := range r.transformers {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check fails with *UnregisteredTransformerError for the first field whose
// kind has no transformer.
func (r *Registry) Check(fields []field.Descriptor) error {
	for _, desc := range fields {
		if !r.Has(desc.Kind) {
			return &UnregisteredTransformerError{FieldID: desc.ID, Kind: desc.Kind}
		}
	}
	return nil
}

// Transform runs the transformer for desc.Kind. Failures are wrapped in
// *TransformError.
func (r *Registry) Transform(ctx context.Context, flowID string, desc field.Descriptor, value answer.Value) (Answer, error) {
	t, ok := r.Lookup(desc.Kind)
	if !ok {
		return Answer{}, &UnregisteredTransformerError{FieldID: desc.ID, Kind: desc.Kind}
	}
	out, err := t.Transform(ctx, value, Context{FlowID: flowID, Field: desc})
	if err != nil {
		return Answer{}, &TransformError{FieldID: desc.ID, Kind: desc.Kind, Err: err}
	}
	return out, nil
}

func checkRegistration(kind field.Kind, t Transformer) error {
	if strings.TrimSpace(string(kind)) == "" {
		return fmt.Errorf("transform: transformer kind is required")
	}
	if t == nil {
		return fmt.Errorf("transform: transformer for kind %q is nil", kind)
	}
	return nil
}
