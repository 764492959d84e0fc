// Package flow runs a multi-step form: it tracks the current step, collects
// answers, validates each step before moving on and hands the completed
// answers to a submission coordinator.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/step"
	"github.com/goliatone/go-formflow/pkg/submit"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

// Option customises a Machine.
type Option func(*Machine)

// WithFlowID sets the flow id. A uuid is generated otherwise.
func WithFlowID(id string) Option {
	return func(m *Machine) {
		if id != "" {
			m.flowID = id
		}
	}
}

// WithEvaluator sets the visibility evaluator.
func WithEvaluator(eval visibility.Evaluator) Option {
	return func(m *Machine) {
		if eval != nil {
			m.evaluator = eval
		}
	}
}

// WithExtras exposes additional values to visibility rules under the
// `extras.` prefix.
func WithExtras(extras map[string]any) Option {
	return func(m *Machine) {
		m.extras = extras
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAnswers seeds the machine with answers, for example when resuming a
// saved flow. Seeded answers skip the applicability check.
func WithAnswers(answers answer.Set) Option {
	return func(m *Machine) {
		for id, v := range answers {
			m.answers[id] = answer.Copy(v)
		}
	}
}

// Machine is the single owner of a flow's state. All methods are safe for
// concurrent use; the lock is released while a submission runs.
type Machine struct {
	mu sync.Mutex

	flowID      string
	steps       []step.Definition
	coordinator *submit.Coordinator
	evaluator   visibility.Evaluator
	extras      map[string]any
	logger      *slog.Logger

	answers    answer.Set
	stepIndex  int
	visited    map[string]struct{}
	submission submit.State
	generation uint64
	active     bool
	cancel     context.CancelFunc
	// submitting is set while an attempt runs outside the lock, before the
	// coordinator reports its first status.
	submitting bool

	listeners    map[int]Listener
	nextListener int
}

// New starts a flow on its first applicable step.
func New(steps []step.Definition, coordinator *submit.Coordinator, opts ...Option) (*Machine, error) {
	if coordinator == nil {
		return nil, ErrNoCoordinator
	}
	m := &Machine{
		flowID:      uuid.NewString(),
		steps:       append([]step.Definition(nil), steps...),
		coordinator: coordinator,
		evaluator:   step.DefaultEvaluator(),
		logger:      slog.Default(),
		answers:     answer.Set{},
		visited:     map[string]struct{}{},
		submission:  coordinator.State(),
		active:      true,
		listeners:   map[int]Listener{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	first, ok, err := m.nextApplicableLocked(0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoApplicableSteps
	}
	m.stepIndex = first
	m.logger.Debug("flow started", "flow_id", m.flowID, "step", m.steps[first].ID, "steps", len(m.steps))
	return m, nil
}

// FlowID returns the flow id.
func (m *Machine) FlowID() string { return m.flowID }

// State returns a snapshot of the flow.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// CurrentStep returns the active step definition.
func (m *Machine) CurrentStep() step.Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[m.stepIndex]
}

// Steps returns every step definition, applicable or not.
func (m *Machine) Steps() []step.Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]step.Definition(nil), m.steps...)
}

// VisibleFields lists the fields of the current step that apply to the
// current answers.
func (m *Machine) VisibleFields() ([]field.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[m.stepIndex].ApplicableFields(m.evaluator, m.contextLocked())
}

// ApplicableSteps lists the steps that apply to the current answers.
func (m *Machine) ApplicableSteps() ([]step.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := step.ApplicableIndexes(m.steps, m.evaluator, m.contextLocked())
	if err != nil {
		return nil, err
	}
	out := make([]step.Definition, len(idx))
	for i, n := range idx {
		out[i] = m.steps[n]
	}
	return out, nil
}

// ReviewStep is an applicable step with the fields visible under the
// current answers.
type ReviewStep struct {
	Step   step.Definition
	Fields []field.Descriptor
}

// Review lists what a submission would contain: applicable steps in order,
// each with its visible fields, plus a copy of the answers. Hidden answers
// stay in the set but their fields are not listed.
func (m *Machine) Review() ([]ReviewStep, answer.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	review, err := m.reviewLocked(m.contextLocked())
	if err != nil {
		return nil, nil, err
	}
	return review, m.answers.Clone(), nil
}

// Progress reports the position of the current step among applicable steps.
func (m *Machine) Progress() (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := step.ApplicableIndexes(m.steps, m.evaluator, m.contextLocked())
	if err != nil {
		return Progress{}, err
	}
	pos := sort.SearchInts(idx, m.stepIndex)
	return Progress{Position: pos + 1, Total: len(idx)}, nil
}

// Subscribe registers l and returns a function that removes it.
func (m *Machine) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SetAnswer records the answer for fieldID. Only fields visible on an
// applicable step accept answers. Other answers are never touched.
func (m *Machine) SetAnswer(fieldID string, value answer.Value) error {
	m.mu.Lock()
	if err := m.mutableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	desc, err := m.applicableFieldLocked(fieldID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if value == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q got no value", ErrAnswerKind, fieldID)
	}
	if value.Kind() != desc.Kind {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q expects %s, got %s", ErrAnswerKind, fieldID, desc.Kind, value.Kind())
	}

	m.answers[fieldID] = answer.Copy(value)
	events := []Event{{Type: EventAnswerChanged, Field: fieldID}}
	events = append(events, m.realignLocked()...)
	m.finishLocked(events)
	return nil
}

// ClearAnswer removes the answer for fieldID.
func (m *Machine) ClearAnswer(fieldID string) error {
	m.mu.Lock()
	if err := m.mutableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, idx := m.fieldLocked(fieldID); idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownField, fieldID)
	}
	if _, ok := m.answers[fieldID]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.answers, fieldID)
	events := []Event{{Type: EventAnswerChanged, Field: fieldID}}
	events = append(events, m.realignLocked()...)
	m.finishLocked(events)
	return nil
}

// Advance validates the visible fields of the current step. On success it
// moves to the next applicable step, or submits when none is left. A failed
// validation returns *schema.ValidationError and leaves the state unchanged.
// Submission failures are reported in the returned Transition and State;
// only configuration errors are returned.
func (m *Machine) Advance(ctx context.Context) (Transition, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if err := m.mutableLocked(); err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	if m.inFlightLocked() {
		m.mu.Unlock()
		return Transition{}, submit.ErrSubmissionInFlight
	}

	from := m.stepIndex
	current := m.steps[from]
	vctx := m.contextLocked()
	visible, err := current.ApplicableSchema(m.evaluator, vctx)
	if err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	if err := visible.Validate(m.answers); err != nil {
		m.mu.Unlock()
		m.logger.Debug("step rejected", "flow_id", m.flowID, "step", current.ID, "error", err)
		return Transition{}, err
	}
	m.visited[current.ID] = struct{}{}

	next, ok, err := m.nextApplicableLocked(from + 1)
	if err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	if ok {
		m.stepIndex = next
		tr := m.transitionLocked(TransitionMoved, from)
		m.finishLocked([]Event{{Type: EventStepChanged}})
		return tr, nil
	}

	return m.submitLocked(ctx, from)
}

// Retreat moves to the previous applicable step without validating.
func (m *Machine) Retreat() (Transition, error) {
	m.mu.Lock()
	if err := m.mutableLocked(); err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	if m.inFlightLocked() {
		m.mu.Unlock()
		return Transition{}, submit.ErrSubmissionInFlight
	}
	from := m.stepIndex
	prev, ok, err := m.prevApplicableLocked(from - 1)
	if err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	if !ok {
		m.mu.Unlock()
		return Transition{}, ErrAtFirstStep
	}
	m.stepIndex = prev
	tr := m.transitionLocked(TransitionMoved, from)
	m.finishLocked([]Event{{Type: EventStepChanged}})
	return tr, nil
}

// Reload swaps in steps derived from a changed field source. Answers are
// kept; the machine stays on the step with the same id when it still
// applies and otherwise lands on the nearest applicable step.
func (m *Machine) Reload(steps []step.Definition) error {
	m.mu.Lock()
	if err := m.mutableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.inFlightLocked() {
		m.mu.Unlock()
		return submit.ErrSubmissionInFlight
	}

	prevSteps, prevIndex := m.steps, m.stepIndex
	currentID := prevSteps[prevIndex].ID
	m.steps = append([]step.Definition(nil), steps...)
	if _, ok, err := m.nextApplicableLocked(0); err != nil || !ok {
		m.steps = prevSteps
		m.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrNoApplicableSteps
	}

	m.stepIndex = min(prevIndex, len(m.steps)-1)
	for i, def := range m.steps {
		if def.ID == currentID {
			m.stepIndex = i
			break
		}
	}

	events := []Event{{Type: EventReloaded}}
	events = append(events, m.realignLocked()...)
	m.logger.Info("flow reloaded", "flow_id", m.flowID, "steps", len(m.steps), "step", m.steps[m.stepIndex].ID)
	m.finishLocked(events)
	return nil
}

// Dismiss ends the flow. An in-flight submission is cancelled and its late
// result ignored.
func (m *Machine) Dismiss() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.logger.Info("flow dismissed", "flow_id", m.flowID, "generation", m.generation)
	m.finishLocked([]Event{{Type: EventDismissed}})
}

func (m *Machine) submitLocked(ctx context.Context, from int) (Transition, error) {
	vctx := m.contextLocked()
	fields, err := m.submittableFieldsLocked(vctx)
	if err != nil {
		m.mu.Unlock()
		return Transition{}, err
	}
	gen := m.generation
	subCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.submitting = true
	req := submit.Request{
		FlowID:   m.flowID,
		Answers:  m.answers.Clone(),
		Fields:   fields,
		Schema:   step.UnionSchema(m.steps).Restrict(field.IDs(fields)),
		OnStatus: m.statusObserver(gen),
	}
	m.mu.Unlock()

	m.logger.Debug("submitting flow", "flow_id", m.flowID, "fields", len(fields))
	_, err = m.coordinator.Submit(subCtx, req)
	cancel()

	m.mu.Lock()
	m.submitting = false
	if m.generation != gen {
		m.mu.Unlock()
		m.logger.Info("ignoring submission result for stale generation", "flow_id", m.flowID, "generation", gen)
		return Transition{}, ErrFlowDismissed
	}
	m.cancel = nil

	switch {
	case err == nil:
		tr := m.transitionLocked(TransitionCompleted, from)
		m.mu.Unlock()
		return tr, nil
	case errors.Is(err, submit.ErrAlreadySubmitted):
		m.mu.Unlock()
		return Transition{}, ErrFlowCompleted
	case errors.Is(err, submit.ErrSubmissionInFlight):
		m.mu.Unlock()
		return Transition{}, err
	case submit.IsConfigurationError(err):
		m.mu.Unlock()
		m.logger.Error("flow misconfigured", "flow_id", m.flowID, "error", err)
		return Transition{}, err
	}

	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		// An earlier step no longer validates: send the user back to it.
		if idx, ok := m.stepForIssuesLocked(verr); ok && idx != m.stepIndex {
			m.stepIndex = idx
			m.finishLocked([]Event{{Type: EventStepChanged}})
		} else {
			m.mu.Unlock()
		}
		return Transition{}, err
	}

	tr := m.transitionLocked(TransitionSubmitted, from)
	m.mu.Unlock()
	return tr, nil
}

func (m *Machine) inFlightLocked() bool {
	return m.submitting || m.submission.InFlight()
}

func (m *Machine) statusObserver(gen uint64) func(submit.State) {
	return func(s submit.State) {
		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			m.logger.Debug("dropping submission status for stale generation", "flow_id", m.flowID, "status", s.Status)
			return
		}
		m.submission = s
		m.finishLocked([]Event{{Type: EventSubmission}})
	}
}

func (m *Machine) reviewLocked(vctx visibility.Context) ([]ReviewStep, error) {
	idx, err := step.ApplicableIndexes(m.steps, m.evaluator, vctx)
	if err != nil {
		return nil, err
	}
	out := make([]ReviewStep, 0, len(idx))
	for _, n := range idx {
		fields, err := m.steps[n].ApplicableFields(m.evaluator, vctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ReviewStep{Step: m.steps[n], Fields: fields})
	}
	return out, nil
}

// submittableFieldsLocked lists the visible fields of every applicable step.
func (m *Machine) submittableFieldsLocked(vctx visibility.Context) ([]field.Descriptor, error) {
	review, err := m.reviewLocked(vctx)
	if err != nil {
		return nil, err
	}
	var out []field.Descriptor
	for _, rs := range review {
		out = append(out, rs.Fields...)
	}
	return out, nil
}

func (m *Machine) stepForIssuesLocked(verr *schema.ValidationError) (int, bool) {
	failing := verr.Fields()
	for i, def := range m.steps {
		for _, f := range def.Fields {
			if _, ok := failing[f.ID]; ok {
				return i, true
			}
		}
	}
	return 0, false
}

func (m *Machine) mutableLocked() error {
	switch {
	case !m.active:
		return ErrFlowDismissed
	case m.submission.Terminal():
		return ErrFlowCompleted
	}
	return nil
}

func (m *Machine) fieldLocked(id string) (field.Descriptor, int) {
	for i, def := range m.steps {
		for _, f := range def.Fields {
			if f.ID == id {
				return f, i
			}
		}
	}
	return field.Descriptor{}, -1
}

func (m *Machine) applicableFieldLocked(id string) (field.Descriptor, error) {
	desc, idx := m.fieldLocked(id)
	if idx < 0 {
		return field.Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownField, id)
	}
	vctx := m.contextLocked()
	def := m.steps[idx]
	ok, err := def.IsApplicable(m.evaluator, vctx)
	if err != nil {
		return field.Descriptor{}, err
	}
	if !ok {
		return field.Descriptor{}, fmt.Errorf("%w: %q (step %q is skipped)", ErrFieldNotApplicable, id, def.ID)
	}
	visible, err := def.ApplicableFields(m.evaluator, vctx)
	if err != nil {
		return field.Descriptor{}, err
	}
	for _, f := range visible {
		if f.ID == id {
			return desc, nil
		}
	}
	return field.Descriptor{}, fmt.Errorf("%w: %q is hidden", ErrFieldNotApplicable, id)
}

// realignLocked keeps stepIndex on an applicable step after answers or steps
// change, preferring the next applicable step.
func (m *Machine) realignLocked() []Event {
	vctx := m.contextLocked()
	ok, err := m.steps[m.stepIndex].IsApplicable(m.evaluator, vctx)
	if err != nil {
		m.logger.Warn("visibility evaluation failed", "flow_id", m.flowID, "step", m.steps[m.stepIndex].ID, "error", err)
		return nil
	}
	if ok {
		return nil
	}
	target, found, err := m.nextApplicableLocked(m.stepIndex + 1)
	if err == nil && !found {
		target, found, err = m.prevApplicableLocked(m.stepIndex - 1)
	}
	if err != nil || !found {
		return nil
	}
	m.stepIndex = target
	return []Event{{Type: EventStepChanged}}
}

func (m *Machine) nextApplicableLocked(from int) (int, bool, error) {
	vctx := m.contextLocked()
	for i := max(from, 0); i < len(m.steps); i++ {
		ok, err := m.steps[i].IsApplicable(m.evaluator, vctx)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (m *Machine) prevApplicableLocked(from int) (int, bool, error) {
	vctx := m.contextLocked()
	for i := min(from, len(m.steps)-1); i >= 0; i-- {
		ok, err := m.steps[i].IsApplicable(m.evaluator, vctx)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (m *Machine) contextLocked() visibility.Context {
	return visibility.ContextFor(m.answers, m.extras)
}

func (m *Machine) transitionLocked(kind TransitionKind, from int) Transition {
	fromID := ""
	if from >= 0 && from < len(m.steps) {
		fromID = m.steps[from].ID
	}
	return Transition{
		Kind:       kind,
		From:       from,
		To:         m.stepIndex,
		FromStep:   fromID,
		ToStep:     m.steps[m.stepIndex].ID,
		Submission: m.submission,
	}
}

func (m *Machine) stateLocked() State {
	visited := make([]int, 0, len(m.visited))
	for i, def := range m.steps {
		if _, ok := m.visited[def.ID]; ok {
			visited = append(visited, i)
		}
	}
	return State{
		FlowID:     m.flowID,
		Generation: m.generation,
		StepIndex:  m.stepIndex,
		StepID:     m.steps[m.stepIndex].ID,
		Answers:    m.answers.Clone(),
		Visited:    visited,
		Submission: m.submission,
		Active:     m.active,
	}
}

// finishLocked stamps events with the current state, releases the lock and
// delivers them.
func (m *Machine) finishLocked(events []Event) {
	if len(events) == 0 || len(m.listeners) == 0 {
		m.mu.Unlock()
		return
	}
	state := m.stateLocked()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = m.listeners[id]
	}
	m.mu.Unlock()

	for _, ev := range events {
		ev.State = state
		for _, l := range listeners {
			l(ev)
		}
	}
}
