package formflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/flow"
	"github.com/goliatone/go-formflow/pkg/source"
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

func stepIDs(steps []step.Definition) []string {
	out := make([]string, len(steps))
	for i, def := range steps {
		out[i] = def.ID
	}
	return out
}

func TestEngineStartsAndSubmits(t *testing.T) {
	rec := &recorder{}
	engine := formflow.New(
		formflow.WithFields(
			field.Descriptor{ID: "name", Kind: field.KindText, Step: "about", Constraints: field.Constraints{Required: true}},
			field.Descriptor{ID: "score", Kind: field.KindRating, Step: "rate"},
		),
		formflow.WithLead(step.Lead{
			Section: step.Section{Title: "Hello"},
			Fields: []field.Descriptor{{ID: "venue", Kind: field.KindChoice, Constraints: field.Constraints{
				Options: []field.Option{{Value: "hall"}, {Value: "garden"}},
			}}},
		}),
		formflow.WithSubmitter(rec),
		formflow.WithFlowOptions(flow.WithFlowID("flow-engine")),
	)

	m, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if diff := cmp.Diff([]string{"lead", "about", "rate"}, stepIDs(m.Steps())); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}

	ctx := context.Background()
	if err := m.SetAnswer("venue", answer.Choice{Value: "garden"}); err != nil {
		t.Fatalf("SetAnswer venue: %v", err)
	}
	if _, err := m.Advance(ctx); err != nil {
		t.Fatalf("Advance lead: %v", err)
	}
	if err := m.SetAnswer("name", answer.Text{Value: "  Ada <b>L</b> "}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if _, err := m.Advance(ctx); err != nil {
		t.Fatalf("Advance about: %v", err)
	}
	if err := m.SetAnswer("score", answer.Rating{Value: 5}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	tr, err := m.Advance(ctx)
	if err != nil {
		t.Fatalf("Advance rate: %v", err)
	}
	if tr.Kind != flow.TransitionCompleted || tr.Submission.SubmissionID != "sub-1" {
		t.Fatalf("unexpected transition %+v", tr)
	}

	got := rec.payloads[0]
	if got.FlowID != "flow-engine" || got.Answers["name"].Value != "Ada L" || got.Answers["score"].Value != 5 || got.Answers["venue"].Value != "garden" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestEngineFollowsProviderUpdates(t *testing.T) {
	provider := source.NewStatic(source.Snapshot{Fields: []field.Descriptor{
		{ID: "a", Kind: field.KindText, Step: "one"},
	}})
	engine := formflow.New(formflow.WithProvider(provider), formflow.WithSubmitter(&recorder{}))

	m, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	provider.Update(source.Snapshot{Fields: []field.Descriptor{
		{ID: "a", Kind: field.KindText, Step: "one"},
		{ID: "b", Kind: field.KindNumber, Step: "two"},
	}})
	if diff := cmp.Diff([]string{"one", "two"}, stepIDs(m.Steps())); diff != "" {
		t.Fatalf("reload not applied (-want +got):\n%s", diff)
	}

	// Updates that cannot derive are ignored.
	provider.Update(source.Snapshot{Fields: []field.Descriptor{{ID: "x", Kind: "unknown"}}})
	if len(m.Steps()) != 2 {
		t.Fatalf("invalid update should be ignored, got %v", stepIDs(m.Steps()))
	}

	m.Dismiss()
	provider.Update(source.Snapshot{Fields: []field.Descriptor{{ID: "c", Kind: field.KindText, Step: "three"}}})
	if diff := cmp.Diff([]string{"one", "two"}, stepIDs(m.Steps())); diff != "" {
		t.Fatalf("dismissed flow should stop following (-want +got):\n%s", diff)
	}
}

func TestEngineUploaderDoesNotLeakIntoSharedRegistry(t *testing.T) {
	shared := transform.NewRegistry()
	var keys []string
	uploader := transform.UploaderFunc(func(_ context.Context, key, _ string, _ []byte) (string, error) {
		keys = append(keys, key)
		return "stored/" + key, nil
	})
	rec := &recorder{}
	engine := formflow.New(
		formflow.WithFields(field.Descriptor{ID: "doc", Kind: field.KindFile, Step: "upload"}),
		formflow.WithTransformers(shared),
		formflow.WithUploader(uploader),
		formflow.WithSubmitter(rec),
	)

	m, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SetAnswer("doc", answer.File{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if _, err := m.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(keys) != 1 || rec.payloads[0].Answers["doc"].Value != "stored/"+keys[0] {
		t.Fatalf("upload not used: keys=%v payload=%+v", keys, rec.payloads[0].Answers["doc"])
	}

	inline, err := shared.Transform(context.Background(), "f", field.Descriptor{ID: "doc", Kind: field.KindFile}, answer.File{Name: "a.txt", Data: []byte("hello")})
	if err != nil {
		t.Fatalf("shared Transform: %v", err)
	}
	if inline.Value != "aGVsbG8=" {
		t.Fatalf("shared registry should still inline files, got %v", inline.Value)
	}
}

func TestEngineStartErrors(t *testing.T) {
	if _, err := formflow.New(formflow.WithFields()).Start(context.Background()); !errors.Is(err, formflow.ErrNoSubmitter) {
		t.Fatalf("expected ErrNoSubmitter, got %v", err)
	}
	if _, err := formflow.New(formflow.WithSubmitter(&recorder{})).Start(context.Background()); !errors.Is(err, formflow.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	empty := formflow.New(formflow.WithFields(), formflow.WithSubmitter(&recorder{}))
	if _, err := empty.Start(context.Background()); !errors.Is(err, flow.ErrNoApplicableSteps) {
		t.Fatalf("expected ErrNoApplicableSteps, got %v", err)
	}
}
