package flow

import (
	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/submit"
)

// State is a snapshot of a running flow. Snapshots are copies; mutating one
// does not affect the machine.
type State struct {
	FlowID     string
	Generation uint64
	StepIndex  int
	StepID     string
	Answers    answer.Set
	Visited    []int
	Submission submit.State
	Active     bool
}

// EventType names a state change.
type EventType string

const (
	EventAnswerChanged EventType = "answer_changed"
	EventStepChanged   EventType = "step_changed"
	EventSubmission    EventType = "submission"
	EventReloaded      EventType = "reloaded"
	EventDismissed     EventType = "dismissed"
)

// Event reports one state change together with the resulting state.
type Event struct {
	Type EventType
	// Field is set for answer changes.
	Field string
	State State
}

// Listener receives events. Listeners run after the machine releases its
// lock, so they may call back into the machine.
type Listener func(Event)

// TransitionKind describes what Advance or Retreat did.
type TransitionKind string

const (
	// TransitionMoved means the current step changed.
	TransitionMoved TransitionKind = "moved"
	// TransitionSubmitted means a submission attempt ran and failed; the
	// reason is in Submission.
	TransitionSubmitted TransitionKind = "submitted"
	// TransitionCompleted means the submission succeeded.
	TransitionCompleted TransitionKind = "completed"
)

// Transition is the result of a navigation call.
type Transition struct {
	Kind       TransitionKind
	From       int
	To         int
	FromStep   string
	ToStep     string
	Submission submit.State
}

// Progress locates the current step among the applicable ones. Position is
// one based.
type Progress struct {
	Position int
	Total    int
}
