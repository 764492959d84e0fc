package submit

import (
	"errors"
	"fmt"
)

// Status is the lifecycle position of a flow's submission.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// FailureKind classifies why a submission failed.
type FailureKind string

const (
	FailureValidation    FailureKind = "validation"
	FailureConfiguration FailureKind = "configuration"
	FailureTransform     FailureKind = "transform"
	FailureSubmit        FailureKind = "submit"
	FailureCanceled      FailureKind = "canceled"
)

// ID is the opaque identifier returned by a submitter.
type ID string

func (id ID) String() string { return string(id) }

// State is a snapshot of a submission lifecycle.
type State struct {
	Status       Status      `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	Failure      FailureKind `json:"failure,omitempty"`
	SubmissionID ID          `json:"submission_id,omitempty"`
	Attempts     int         `json:"attempts"`
}

// Terminal reports whether no further submission attempts are possible.
func (s State) Terminal() bool { return s.Status == StatusSucceeded }

// InFlight reports whether an attempt is running.
func (s State) InFlight() bool {
	return s.Status == StatusValidating || s.Status == StatusSubmitting
}

// Retryable reports whether the previous attempt failed and may be retried.
func (s State) Retryable() bool { return s.Status == StatusFailed }

// ErrInvalidTransition reports a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("submit: invalid status transition")

var transitions = map[Status][]Status{
	StatusIdle:       {StatusValidating},
	StatusValidating: {StatusSubmitting, StatusFailed},
	StatusSubmitting: {StatusSucceeded, StatusFailed},
	StatusFailed:     {StatusValidating},
}

// CanTransition reports whether s may move to next. Status only moves
// forward; Failed may restart validation and Succeeded is terminal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
