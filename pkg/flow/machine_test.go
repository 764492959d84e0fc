package flow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/flow"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/step"
	"github.com/goliatone/go-formflow/pkg/submit"
	"github.com/goliatone/go-formflow/pkg/transform"
)

type recorder struct {
	mu       sync.Mutex
	payloads []submit.Payload
}

func (r *recorder) Submit(_ context.Context, p submit.Payload) (submit.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return "sub-1", nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *recorder) last() submit.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[len(r.payloads)-1]
}

func scenarioSteps(t *testing.T, kindB field.Kind) []step.Definition {
	t.Helper()
	steps, err := step.Derive([]field.Descriptor{
		{ID: "question_a", Kind: field.KindText, Step: "a", Constraints: field.Constraints{Required: true}},
		{ID: "question_b", Kind: kindB, Step: "b", VisibleWhen: `question_a == "yes"`},
	}, step.WithLead(step.Lead{
		Section: step.Section{Title: "Welcome"},
		Fields: []field.Descriptor{{ID: "resource", Kind: field.KindChoice, Constraints: field.Constraints{
			Options: []field.Option{{Value: "room"}, {Value: "suite"}},
		}}},
	}))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return steps
}

func newMachine(t *testing.T, steps []step.Definition, sub submit.Submitter, opts ...submit.Option) *flow.Machine {
	t.Helper()
	m, err := flow.New(steps, submit.NewCoordinator(sub, opts...), flow.WithFlowID("flow-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func mustAdvance(t *testing.T, m *flow.Machine) flow.Transition {
	t.Helper()
	tr, err := m.Advance(context.Background())
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	return tr
}

func TestScenarioSkipsHiddenStep(t *testing.T) {
	rec := &recorder{}
	m := newMachine(t, scenarioSteps(t, field.KindText), rec)

	if got := m.State().StepID; got != "lead" {
		t.Fatalf("expected to start on lead, got %q", got)
	}
	if tr := mustAdvance(t, m); tr.Kind != flow.TransitionMoved || tr.ToStep != "a" {
		t.Fatalf("unexpected transition %+v", tr)
	}

	if err := m.SetAnswer("question_b", answer.Text{Value: "early"}); !errors.Is(err, flow.ErrFieldNotApplicable) {
		t.Fatalf("expected ErrFieldNotApplicable for hidden field, got %v", err)
	}
	if err := m.SetAnswer("question_a", answer.Text{Value: "no"}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	tr := mustAdvance(t, m)
	if tr.Kind != flow.TransitionCompleted || tr.Submission.Status != submit.StatusSucceeded {
		t.Fatalf("expected completion, got %+v", tr)
	}

	state := m.State()
	if diff := cmp.Diff([]int{0, 1}, state.Visited); diff != "" {
		t.Fatalf("visited mismatch (-want +got):\n%s", diff)
	}
	want := map[string]transform.Answer{"question_a": {Value: "no"}}
	if diff := cmp.Diff(want, rec.last().Answers); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.Advance(context.Background()); !errors.Is(err, flow.ErrFlowCompleted) {
		t.Fatalf("expected ErrFlowCompleted, got %v", err)
	}
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); !errors.Is(err, flow.ErrFlowCompleted) {
		t.Fatalf("expected ErrFlowCompleted from SetAnswer, got %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly one submission, got %d", rec.count())
	}
}

func TestScenarioUploadFailureRetry(t *testing.T) {
	attempts := 0
	uploader := transform.UploaderFunc(func(_ context.Context, key, _ string, _ []byte) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("upload rejected")
		}
		return "uploads/" + key, nil
	})
	reg := transform.NewRegistry()
	if err := reg.Replace(field.KindFile, transform.NewUploadTransformer(uploader)); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	rec := &recorder{}
	m := newMachine(t, scenarioSteps(t, field.KindFile), rec, submit.WithTransformers(reg))
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); err != nil {
		t.Fatalf("SetAnswer a: %v", err)
	}
	mustAdvance(t, m)
	file := answer.File{Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")}
	if err := m.SetAnswer("question_b", file); err != nil {
		t.Fatalf("SetAnswer b: %v", err)
	}
	before := m.State().Answers

	tr := mustAdvance(t, m)
	if tr.Kind != flow.TransitionSubmitted || tr.Submission.Status != submit.StatusFailed {
		t.Fatalf("expected failed submission, got %+v", tr)
	}
	if tr.Submission.Failure != submit.FailureTransform {
		t.Fatalf("expected transform failure, got %q", tr.Submission.Failure)
	}
	if rec.count() != 0 {
		t.Fatalf("submitter must not run when a transform fails")
	}
	if diff := cmp.Diff(before, m.State().Answers); diff != "" {
		t.Fatalf("answers changed by failed submission (-want +got):\n%s", diff)
	}

	tr = mustAdvance(t, m)
	if tr.Kind != flow.TransitionCompleted {
		t.Fatalf("expected retry to complete, got %+v", tr)
	}
	if got := m.State().Submission.Attempts; got != 2 {
		t.Fatalf("expected two attempts, got %d", got)
	}
	payload := rec.last()
	if payload.Answers["question_a"].Value != "yes" || payload.Answers["question_b"].Metadata[transform.MetaStorage] != "upload" {
		t.Fatalf("unexpected payload %+v", payload.Answers)
	}
}

func TestAdvanceRejectsInvalidAnswers(t *testing.T) {
	m := newMachine(t, scenarioSteps(t, field.KindText), &recorder{})
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "   "}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	before := m.State()

	_, err := m.Advance(context.Background())
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if diff := cmp.Diff([]string{"question_a"}, verr.FieldIDs()); diff != "" {
		t.Fatalf("failing fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, m.State()); diff != "" {
		t.Fatalf("state changed after rejected advance (-want +got):\n%s", diff)
	}
}

func TestSetAnswerCommutes(t *testing.T) {
	steps, err := step.Derive([]field.Descriptor{
		{ID: "x", Kind: field.KindText},
		{ID: "y", Kind: field.KindNumber},
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	first := newMachine(t, steps, &recorder{})
	second := newMachine(t, steps, &recorder{})

	if err := first.SetAnswer("x", answer.Text{Value: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := first.SetAnswer("y", answer.Number{Value: 1}); err != nil {
		t.Fatal(err)
	}
	if err := second.SetAnswer("y", answer.Number{Value: 1}); err != nil {
		t.Fatal(err)
	}
	if err := second.SetAnswer("x", answer.Text{Value: "a"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.State(), second.State()); diff != "" {
		t.Fatalf("states differ (-first +second):\n%s", diff)
	}
}

func TestSetAnswerRejectsUnknownAndMismatchedKinds(t *testing.T) {
	m := newMachine(t, scenarioSteps(t, field.KindText), &recorder{})
	if err := m.SetAnswer("nope", answer.Text{Value: "x"}); !errors.Is(err, flow.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if err := m.SetAnswer("question_a", answer.Number{Value: 1}); !errors.Is(err, flow.ErrAnswerKind) {
		t.Fatalf("expected ErrAnswerKind, got %v", err)
	}
	if err := m.ClearAnswer("nope"); !errors.Is(err, flow.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField from ClearAnswer, got %v", err)
	}
}

func TestRetreatPreservesAnswers(t *testing.T) {
	m := newMachine(t, scenarioSteps(t, field.KindText), &recorder{})
	if _, err := m.Retreat(); !errors.Is(err, flow.ErrAtFirstStep) {
		t.Fatalf("expected ErrAtFirstStep, got %v", err)
	}
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); err != nil {
		t.Fatal(err)
	}
	mustAdvance(t, m)
	if got := m.State().StepID; got != "b" {
		t.Fatalf("expected step b, got %q", got)
	}

	tr, err := m.Retreat()
	if err != nil {
		t.Fatalf("Retreat: %v", err)
	}
	if tr.FromStep != "b" || tr.ToStep != "a" {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if v, ok := m.State().Answers.Get("question_a"); !ok || v != (answer.Text{Value: "yes"}) {
		t.Fatalf("expected answer to survive retreat, got %v", v)
	}
}

func TestHiddenAnswersRetainedButExcluded(t *testing.T) {
	rec := &recorder{}
	m := newMachine(t, scenarioSteps(t, field.KindText), rec)
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAnswer("question_b", answer.Text{Value: "details"}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAnswer("question_a", answer.Text{Value: "no"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.State().Answers.Get("question_b"); !ok {
		t.Fatalf("expected hidden answer to be retained")
	}

	if tr := mustAdvance(t, m); tr.Kind != flow.TransitionCompleted {
		t.Fatalf("expected completion, got %+v", tr)
	}
	if _, ok := rec.last().Answers["question_b"]; ok {
		t.Fatalf("hidden answer must not be submitted")
	}
}

func TestStepRealignsWhenCurrentStepBecomesInapplicable(t *testing.T) {
	steps, err := step.Derive([]field.Descriptor{
		{ID: "mode", Kind: field.KindChoice, Step: "setup", Constraints: field.Constraints{Options: []field.Option{{Value: "full"}, {Value: "short"}}}},
		{ID: "details", Kind: field.KindText, Step: "details", VisibleWhen: `mode == "full"`},
		{ID: "done", Kind: field.KindBoolean, Step: "finish"},
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	m := newMachine(t, steps, &recorder{})

	var events []flow.EventType
	unsubscribe := m.Subscribe(func(ev flow.Event) { events = append(events, ev.Type) })

	if err := m.SetAnswer("mode", answer.Choice{Value: "full"}); err != nil {
		t.Fatal(err)
	}
	mustAdvance(t, m)
	if got := m.State().StepID; got != "details" {
		t.Fatalf("expected details step, got %q", got)
	}
	progress, err := m.Progress()
	if err != nil || progress != (flow.Progress{Position: 2, Total: 3}) {
		t.Fatalf("unexpected progress %+v (err=%v)", progress, err)
	}

	if err := m.SetAnswer("mode", answer.Choice{Value: "short"}); err != nil {
		t.Fatal(err)
	}
	if got := m.State().StepID; got != "finish" {
		t.Fatalf("expected realign to finish, got %q", got)
	}
	applicable, err := m.ApplicableSteps()
	if err != nil || len(applicable) != 2 {
		t.Fatalf("expected two applicable steps, got %d (err=%v)", len(applicable), err)
	}

	unsubscribe()
	if err := m.SetAnswer("done", answer.Boolean{Value: true}); err != nil {
		t.Fatal(err)
	}
	want := []flow.EventType{
		flow.EventAnswerChanged,
		flow.EventStepChanged,
		flow.EventAnswerChanged,
		flow.EventStepChanged,
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigurationErrorIsReturnedAndRecorded(t *testing.T) {
	m := newMachine(t, scenarioSteps(t, field.KindText), &recorder{}, submit.WithTransformers(transform.NewEmptyRegistry()))
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "no"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Advance(context.Background())
	if !errors.Is(err, transform.ErrUnregisteredTransformer) {
		t.Fatalf("expected ErrUnregisteredTransformer, got %v", err)
	}
	if got := m.State().Submission; got.Status != submit.StatusFailed || got.Failure != submit.FailureConfiguration {
		t.Fatalf("expected recorded configuration failure, got %+v", got)
	}
}

func TestDismissIgnoresLateSubmissionResult(t *testing.T) {
	started := make(chan struct{})
	sub := submit.SubmitterFunc(func(ctx context.Context, _ submit.Payload) (submit.ID, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	m := newMachine(t, scenarioSteps(t, field.KindText), sub)
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "no"}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Advance(context.Background())
		done <- err
	}()
	<-started
	m.Dismiss()

	if err := <-done; !errors.Is(err, flow.ErrFlowDismissed) {
		t.Fatalf("expected ErrFlowDismissed, got %v", err)
	}
	state := m.State()
	if state.Active || state.Generation != 1 {
		t.Fatalf("unexpected state after dismiss %+v", state)
	}
	if state.Submission.Status == submit.StatusFailed {
		t.Fatalf("late failure from stale generation must be ignored")
	}
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); !errors.Is(err, flow.ErrFlowDismissed) {
		t.Fatalf("expected ErrFlowDismissed, got %v", err)
	}
}

func TestReloadKeepsAnswersAndStep(t *testing.T) {
	m := newMachine(t, scenarioSteps(t, field.KindText), &recorder{})
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := step.Derive([]field.Descriptor{
		{ID: "intro", Kind: field.KindText, Step: "intro"},
		{ID: "question_a", Kind: field.KindText, Step: "a", Constraints: field.Constraints{Required: true}},
		{ID: "question_c", Kind: field.KindNumber, Step: "c"},
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if err := m.Reload(reloaded); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	state := m.State()
	if state.StepID != "a" || state.StepIndex != 1 {
		t.Fatalf("expected to stay on step a, got %+v", state)
	}
	if _, ok := state.Answers.Get("question_a"); !ok {
		t.Fatalf("expected answers to survive reload")
	}
	if tr := mustAdvance(t, m); tr.ToStep != "c" {
		t.Fatalf("expected new step c, got %+v", tr)
	}

	if err := m.Reload(nil); !errors.Is(err, flow.ErrNoApplicableSteps) {
		t.Fatalf("expected ErrNoApplicableSteps for empty reload, got %v", err)
	}
}

func TestNewRequiresApplicableSteps(t *testing.T) {
	coord := submit.NewCoordinator(&recorder{})
	if _, err := flow.New(nil, coord); !errors.Is(err, flow.ErrNoApplicableSteps) {
		t.Fatalf("expected ErrNoApplicableSteps, got %v", err)
	}
	if _, err := flow.New(nil, nil); !errors.Is(err, flow.ErrNoCoordinator) {
		t.Fatalf("expected ErrNoCoordinator, got %v", err)
	}
}

func TestReviewListsOnlyVisibleFields(t *testing.T) {
	m := newMachine(t, scenarioSteps(t, field.KindText), &recorder{})
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "yes"}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAnswer("question_b", answer.Text{Value: "details"}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAnswer("question_a", answer.Text{Value: "no"}); err != nil {
		t.Fatal(err)
	}

	review, answers, err := m.Review()
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	var got [][]string
	for _, rs := range review {
		got = append(got, append([]string{rs.Step.ID}, field.IDs(rs.Fields)...))
	}
	want := [][]string{{step.DefaultLeadID, "resource"}, {"a", "question_a"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("review mismatch (-want +got):\n%s", diff)
	}
	if _, ok := answers.Get("question_b"); !ok {
		t.Fatalf("review answers should include retained hidden answers")
	}
}

func TestLeadWithoutVisibleFieldsIsSkipped(t *testing.T) {
	steps, err := step.Derive([]field.Descriptor{
		{ID: "question_a", Kind: field.KindText, Step: "a"},
	}, step.WithLead(step.Lead{Fields: []field.Descriptor{
		{ID: "resource", Kind: field.KindChoice, VisibleWhen: `question_a == "pick"`, Constraints: field.Constraints{
			Options: []field.Option{{Value: "room"}},
		}},
	}}))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	m := newMachine(t, steps, &recorder{})
	if got := m.State().StepID; got != "a" {
		t.Fatalf("expected hidden lead to be skipped, got %q", got)
	}
	if _, err := m.Retreat(); !errors.Is(err, flow.ErrAtFirstStep) {
		t.Fatalf("expected ErrAtFirstStep, got %v", err)
	}
	progress, err := m.Progress()
	if err != nil || progress != (flow.Progress{Position: 1, Total: 1}) {
		t.Fatalf("unexpected progress %+v (err=%v)", progress, err)
	}
}

func TestSetAnswerDetachesCallerSlices(t *testing.T) {
	steps, err := step.Derive([]field.Descriptor{
		{ID: "amenities", Kind: field.KindMultiChoice, Step: "extras", Constraints: field.Constraints{
			Options: []field.Option{{Value: "wifi"}, {Value: "parking"}},
		}},
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	reg := transform.NewRegistry()
	builtin, _ := reg.Lookup(field.KindMultiChoice)
	blocking := transform.TransformerFunc(func(ctx context.Context, v answer.Value, tc transform.Context) (transform.Answer, error) {
		close(started)
		<-release
		return builtin.Transform(ctx, v, tc)
	})
	if err := reg.Replace(field.KindMultiChoice, blocking); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	rec := &recorder{}
	m := newMachine(t, steps, rec, submit.WithTransformers(reg))
	values := []string{"wifi", "parking"}
	if err := m.SetAnswer("amenities", answer.MultiChoice{Values: values}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Advance(context.Background())
		done <- err
	}()
	<-started
	values[0] = "pool"
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if diff := cmp.Diff([]string{"wifi", "parking"}, rec.last().Answers["amenities"].Value); diff != "" {
		t.Fatalf("payload follows caller writes (-want +got):\n%s", diff)
	}
	got, _ := m.State().Answers.Get("amenities")
	if diff := cmp.Diff(answer.MultiChoice{Values: []string{"wifi", "parking"}}, got); diff != "" {
		t.Fatalf("answer set follows caller writes (-want +got):\n%s", diff)
	}
}

// hookHandler runs fn once when a record with msg is logged.
type hookHandler struct {
	msg string
	fn  func()
}

func (h *hookHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *hookHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg && h.fn != nil {
		fn := h.fn
		h.fn = nil
		fn()
	}
	return nil
}

func (h *hookHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *hookHandler) WithGroup(string) slog.Handler      { return h }

func TestAdvanceDuringAttemptIsRejected(t *testing.T) {
	var (
		m      *flow.Machine
		second error
	)
	// "submitting flow" is logged after the lock is released and before the
	// coordinator reports any status.
	hook := &hookHandler{msg: "submitting flow", fn: func() {
		_, second = m.Advance(context.Background())
	}}
	rec := &recorder{}
	m, err := flow.New(scenarioSteps(t, field.KindText), submit.NewCoordinator(rec),
		flow.WithFlowID("flow-test"), flow.WithLogger(slog.New(hook)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustAdvance(t, m)
	if err := m.SetAnswer("question_a", answer.Text{Value: "no"}); err != nil {
		t.Fatal(err)
	}

	tr := mustAdvance(t, m)
	if !errors.Is(second, submit.ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight for overlapping advance, got %v", second)
	}
	if tr.Kind != flow.TransitionCompleted || rec.count() != 1 {
		t.Fatalf("expected a single completed attempt, got %+v (submissions=%d)", tr, rec.count())
	}
}
