package flow

import "errors"

var (
	// ErrNoApplicableSteps is returned when no step applies to the answers.
	ErrNoApplicableSteps = errors.New("flow: no applicable steps")
	// ErrAtFirstStep is returned by Retreat on the first applicable step.
	ErrAtFirstStep = errors.New("flow: already at first step")
	// ErrFlowCompleted is returned by mutations after a successful submission.
	ErrFlowCompleted = errors.New("flow: flow already submitted")
	// ErrFlowDismissed is returned by mutations after Dismiss.
	ErrFlowDismissed = errors.New("flow: flow dismissed")
	// ErrFieldNotApplicable rejects answers for hidden fields or skipped steps.
	ErrFieldNotApplicable = errors.New("flow: field not applicable")
	// ErrUnknownField rejects answers for ids outside the flow.
	ErrUnknownField = errors.New("flow: unknown field")
	// ErrAnswerKind rejects answers whose kind differs from the field kind.
	ErrAnswerKind = errors.New("flow: answer kind does not match field")
	// ErrNoCoordinator is returned by New without a submission coordinator.
	ErrNoCoordinator = errors.New("flow: submission coordinator is required")
)
