// Package transform converts validated answers into the wire values handed
// to a submitter. Transformers are registered per field kind; a flow whose
// fields lack a transformer is rejected before any external call is made.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
)

var (
	// ErrUnregisteredTransformer signals a field kind without a transformer.
	// It always indicates a configuration bug.
	ErrUnregisteredTransformer = errors.New("transform: no transformer registered")
	// ErrTransform is matched by every *TransformError.
	ErrTransform = errors.New("transform: answer transformation failed")
	// ErrKindMismatch reports an answer whose kind differs from its field.
	ErrKindMismatch = errors.New("transform: answer kind does not match field")
)

// Answer is the transformed representation of one answer.
type Answer struct {
	Value    any               `json:"value"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Context carries what a transformer may need beyond the answer itself.
type Context struct {
	FlowID string
	Field  field.Descriptor
}

// Transformer converts one answer. Implementations must be safe for
// concurrent use; the coordinator transforms answers in parallel.
type Transformer interface {
	Transform(ctx context.Context, value answer.Value, tc Context) (Answer, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, value answer.Value, tc Context) (Answer, error)

// Transform implements Transformer.
func (fn TransformerFunc) Transform(ctx context.Context, value answer.Value, tc Context) (Answer, error) {
	return fn(ctx, value, tc)
}

// UnregisteredTransformerError names the field whose kind lacks a
// transformer.
type UnregisteredTransformerError struct {
	FieldID string
	Kind    field.Kind
}

func (e *UnregisteredTransformerError) Error() string {
	return fmt.Sprintf("transform: no transformer registered for kind %q (field %q)", e.Kind, e.FieldID)
}

func (e *UnregisteredTransformerError) Unwrap() error { return ErrUnregisteredTransformer }

// TransformError wraps the failure of a single transformer.
type TransformError struct {
	FieldID string
	Kind    field.Kind
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform: field %q (%s): %v", e.FieldID, e.Kind, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransform) match.
func (e *TransformError) Is(target error) bool { return target == ErrTransform }

func kindMismatch(want field.Kind, got answer.Value) error {
	if got == nil {
		return fmt.Errorf("%w: want %s, got no answer", ErrKindMismatch, want)
	}
	return fmt.Errorf("%w: want %s, got %s", ErrKindMismatch, want, got.Kind())
}
