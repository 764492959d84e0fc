package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-formflow/pkg/field"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("schema: validation failed")
	// ErrUnknownFieldKind signals a field whose kind has no rule generator.
	// It always indicates a caller bug.
	ErrUnknownFieldKind = errors.New("schema: unknown field kind")
	// ErrInvalidConstraint signals constraint parameters a generator cannot
	// turn into a rule (bad pattern, min above max, missing options).
	ErrInvalidConstraint = errors.New("schema: invalid constraint")
)

// Issue is a single field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects the issues found while validating answers. Issues
// are sorted by field id and then message.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Fields groups messages by field id.
func (e *ValidationError) Fields() map[string][]string {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for _, issue := range e.Issues {
		out[issue.Field] = append(out[issue.Field], issue.Message)
	}
	return out
}

// FieldIDs returns the distinct failing field ids, sorted.
func (e *ValidationError) FieldIDs() []string {
	fields := e.Fields()
	out := make([]string, 0, len(fields))
	for id := range fields {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func newValidationError(issues []Issue) *ValidationError {
	if len(issues) == 0 {
		return nil
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Field == issues[j].Field {
			return issues[i].Message < issues[j].Message
		}
		return issues[i].Field < issues[j].Field
	})
	return &ValidationError{Issues: issues}
}

// UnknownFieldKindError names the field whose kind has no rule generator.
type UnknownFieldKindError struct {
	FieldID string
	Kind    field.Kind
}

func (e *UnknownFieldKindError) Error() string {
	return fmt.Sprintf("schema: unknown field kind %q for field %q", e.Kind, e.FieldID)
}

func (e *UnknownFieldKindError) Unwrap() error { return ErrUnknownFieldKind }

// InvalidConstraintError names the field whose constraints are unusable.
type InvalidConstraintError struct {
	FieldID string
	Reason  string
}

func (e *InvalidConstraintError) Error() string {
	return fmt.Sprintf("schema: invalid constraint for field %q: %s", e.FieldID, e.Reason)
}

func (e *InvalidConstraintError) Unwrap() error { return ErrInvalidConstraint }

func invalidConstraint(id, format string, args ...any) error {
	return &InvalidConstraintError{FieldID: id, Reason: fmt.Sprintf(format, args...)}
}
