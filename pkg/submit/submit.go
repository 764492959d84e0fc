// Package submit coordinates the final hand-off of a flow: it re-validates a
// snapshot of the answers, transforms them and calls the external submitter
// exactly once per attempt.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/transform"
)

var (
	// ErrAlreadySubmitted is returned by Submit after a successful attempt.
	ErrAlreadySubmitted = errors.New("submit: flow already submitted")
	// ErrSubmissionInFlight is returned when an attempt is still running.
	ErrSubmissionInFlight = errors.New("submit: submission in flight")
	// ErrSubmission is matched by every *SubmissionError.
	ErrSubmission = errors.New("submit: external submit failed")
)

// Payload is the transformed submission handed to a Submitter.
type Payload struct {
	FlowID      string                      `json:"flow_id"`
	Answers     map[string]transform.Answer `json:"answers"`
	Metadata    map[string]string           `json:"metadata,omitempty"`
	Attempt     int                         `json:"attempt"`
	SubmittedAt time.Time                   `json:"submitted_at"`
}

// Submitter performs the external submit call.
type Submitter interface {
	Submit(ctx context.Context, payload Payload) (ID, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, payload Payload) (ID, error)

// Submit implements Submitter.
func (fn SubmitterFunc) Submit(ctx context.Context, payload Payload) (ID, error) {
	return fn(ctx, payload)
}

// SubmissionError wraps a failed external submit call.
type SubmissionError struct {
	FlowID string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit: flow %q: %v", e.FlowID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSubmission) match.
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// IsConfigurationError reports errors caused by flow wiring rather than by
// user input or external systems.
func IsConfigurationError(err error) bool {
	return errors.Is(err, schema.ErrUnknownFieldKind) ||
		errors.Is(err, schema.ErrInvalidConstraint) ||
		errors.Is(err, transform.ErrUnregisteredTransformer)
}

// Classify maps a submission error to its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case IsConfigurationError(err):
		return FailureConfiguration
	case errors.Is(err, schema.ErrValidation):
		return FailureValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	case errors.Is(err, transform.ErrTransform):
		return FailureTransform
	default:
		return FailureSubmit
	}
}
