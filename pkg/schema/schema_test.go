package schema_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/schema"
)

func bookingFields() []field.Descriptor {
	return []field.Descriptor{
		{ID: "name", Kind: field.KindText, Constraints: field.Constraints{Required: true, MinLength: field.IntPtr(2), MaxLength: field.IntPtr(40)}},
		{ID: "email", Kind: field.KindText, Constraints: field.Constraints{Pattern: `^[^@\s]+@[^@\s]+$`}},
		{ID: "guests", Kind: field.KindNumber, Constraints: field.Constraints{Required: true, Min: field.FloatPtr(1), Max: field.FloatPtr(8)}},
		{ID: "arrival", Kind: field.KindDate, Constraints: field.Constraints{Required: true}},
		{ID: "room", Kind: field.KindChoice, Constraints: field.Constraints{Options: []field.Option{{Value: "single"}, {Value: "double"}}}},
		{ID: "extras", Kind: field.KindMultiChoice, Constraints: field.Constraints{
			Options:  []field.Option{{Value: "wifi"}, {Value: "parking"}, {Value: "breakfast"}},
			MaxItems: field.IntPtr(2),
		}},
		{ID: "score", Kind: field.KindRating},
		{ID: "id_scan", Kind: field.KindFile, Constraints: field.Constraints{MaxBytes: 4, Accept: []string{"image/*"}}},
		{ID: "terms", Kind: field.KindBoolean, Constraints: field.Constraints{Required: true}},
	}
}

func TestComposeIsIdempotentAndOrderIndependent(t *testing.T) {
	fields := bookingFields()
	first := schema.MustCompose(schema.NewRegistry(), fields)
	second := schema.MustCompose(schema.NewRegistry(), fields)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("composition not idempotent (-first +second):\n%s", diff)
	}

	reversed := make([]field.Descriptor, len(fields))
	for i, f := range fields {
		reversed[len(fields)-1-i] = f
	}
	if diff := cmp.Diff(first, schema.MustCompose(nil, reversed)); diff != "" {
		t.Fatalf("composition depends on order (-want +got):\n%s", diff)
	}
}

func TestMergeIsAssociative(t *testing.T) {
	fields := bookingFields()
	reg := schema.NewRegistry()
	a := schema.MustCompose(reg, fields[:3])
	b := schema.MustCompose(reg, fields[3:6])
	c := schema.MustCompose(reg, fields[6:])

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	swapped := c.Merge(a, b)
	whole := schema.MustCompose(reg, fields)

	for name, got := range map[string]schema.Schema{"left": left, "right": right, "swapped": swapped} {
		if diff := cmp.Diff(whole, got); diff != "" {
			t.Fatalf("%s merge mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestComposeUnknownKind(t *testing.T) {
	_, err := schema.Compose(schema.NewRegistry(), []field.Descriptor{
		{ID: "color", Kind: "color-picker"},
	})
	if !errors.Is(err, schema.ErrUnknownFieldKind) {
		t.Fatalf("expected ErrUnknownFieldKind, got %v", err)
	}
	var kindErr *schema.UnknownFieldKindError
	if !errors.As(err, &kindErr) || kindErr.FieldID != "color" {
		t.Fatalf("expected error naming field color, got %#v", err)
	}
}

func TestComposeInvalidConstraints(t *testing.T) {
	cases := []struct {
		name string
		desc field.Descriptor
	}{
		{"bad pattern", field.Descriptor{ID: "a", Kind: field.KindText, Constraints: field.Constraints{Pattern: "("}}},
		{"min length above max", field.Descriptor{ID: "a", Kind: field.KindText, Constraints: field.Constraints{MinLength: field.IntPtr(5), MaxLength: field.IntPtr(2)}}},
		{"min above max", field.Descriptor{ID: "a", Kind: field.KindNumber, Constraints: field.Constraints{Min: field.FloatPtr(3), Max: field.FloatPtr(1)}}},
		{"choice without options", field.Descriptor{ID: "a", Kind: field.KindChoice}},
		{"duplicate options", field.Descriptor{ID: "a", Kind: field.KindChoice, Constraints: field.Constraints{Options: []field.Option{{Value: "x"}, {Value: "x"}}}}},
		{"max items above options", field.Descriptor{ID: "a", Kind: field.KindMultiChoice, Constraints: field.Constraints{Options: []field.Option{{Value: "x"}}, MaxItems: field.IntPtr(3)}}},
		{"negative max bytes", field.Descriptor{ID: "a", Kind: field.KindFile, Constraints: field.Constraints{MaxBytes: -1}}},
		{"empty rating scale", field.Descriptor{ID: "a", Kind: field.KindRating, Constraints: field.Constraints{Min: field.FloatPtr(6)}}},
	}
	for _, tc := range cases {
		_, err := schema.Compose(nil, []field.Descriptor{tc.desc})
		if !errors.Is(err, schema.ErrInvalidConstraint) {
			t.Fatalf("%s: expected ErrInvalidConstraint, got %v", tc.name, err)
		}
	}
}

func TestComposeRejectsDuplicates(t *testing.T) {
	_, err := schema.Compose(nil, []field.Descriptor{
		{ID: "a", Kind: field.KindText},
		{ID: "a", Kind: field.KindNumber},
	})
	if !errors.Is(err, schema.ErrDuplicateField) {
		t.Fatalf("expected ErrDuplicateField, got %v", err)
	}
}

func TestValidateReportsSortedIssues(t *testing.T) {
	s := schema.MustCompose(nil, bookingFields())

	err := s.Validate(answer.Set{
		"name":    answer.Text{Value: "J"},
		"email":   answer.Text{Value: "not-an-email"},
		"guests":  answer.Number{Value: 12},
		"room":    answer.Choice{Value: "suite"},
		"extras":  answer.MultiChoice{Values: []string{"wifi", "parking", "spa"}},
		"score":   answer.Rating{Value: 9},
		"id_scan": answer.File{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte("12345")},
		"terms":   answer.Text{Value: "yes"},
	})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("expected errors.Is ErrValidation")
	}

	want := map[string][]string{
		"arrival": {"required"},
		"email":   {"does not match required pattern"},
		"extras":  {`"spa" is not an allowed option`, "select at most 2"},
		"guests":  {"max 8"},
		"id_scan": {`content type "application/pdf" not accepted`, "max size 4 bytes"},
		"name":    {"min length 2"},
		"room":    {`"suite" is not an allowed option`},
		"score":   {"max 5"},
		"terms":   {"expected boolean answer, got text"},
	}
	if diff := cmp.Diff(want, verr.Fields()); diff != "" {
		t.Fatalf("issues mismatch (-want +got):\n%s", diff)
	}
	ids := verr.FieldIDs()
	if ids[0] != "arrival" || ids[len(ids)-1] != "terms" {
		t.Fatalf("expected sorted field ids, got %v", ids)
	}
	if !strings.Contains(verr.Error(), "name: min length 2") {
		t.Fatalf("unexpected message %q", verr.Error())
	}
}

func TestValidateAcceptsValidAnswers(t *testing.T) {
	s := schema.MustCompose(nil, bookingFields())
	err := s.Validate(answer.Set{
		"name":    answer.Text{Value: "Jo"},
		"guests":  answer.Number{Value: 2},
		"arrival": answer.Date{Value: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		"extras":  answer.MultiChoice{Values: []string{"wifi"}},
		"score":   answer.Rating{Value: 4},
		"id_scan": answer.File{Name: "a.png", ContentType: "image/png", Data: []byte("ok")},
		"terms":   answer.Boolean{Value: true},
		"unknown": answer.Text{Value: "ignored"},
	})
	if err != nil {
		t.Fatalf("expected valid answers, got %v", err)
	}
}

func TestRestrictNarrowsRules(t *testing.T) {
	s := schema.MustCompose(nil, bookingFields())
	narrowed := s.Restrict([]string{"name", "missing"})
	if diff := cmp.Diff([]string{"name"}, narrowed.Fields()); diff != "" {
		t.Fatalf("restricted fields mismatch (-want +got):\n%s", diff)
	}
	if err := narrowed.Validate(answer.Set{"name": answer.Text{Value: "Ada"}}); err != nil {
		t.Fatalf("restricted schema should ignore other rules: %v", err)
	}
}

func TestRegistryCustomKind(t *testing.T) {
	reg := schema.NewRegistry()
	if err := reg.Register(field.KindText, schema.GeneratorFunc(func(field.Descriptor) (schema.Rule, error) {
		return schema.Rule{}, nil
	})); err == nil {
		t.Fatalf("expected duplicate builtin registration to fail")
	}

	reg.MustRegister("slider", schema.GeneratorFunc(func(desc field.Descriptor) (schema.Rule, error) {
		return schema.Rule{Required: true}, nil
	}))
	if !reg.Has("slider") {
		t.Fatalf("expected slider kind to be registered")
	}

	s, err := schema.Compose(reg, []field.Descriptor{{ID: "volume", Kind: "slider"}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	rule, ok := s.Rule("volume")
	if !ok || rule.Field != "volume" || rule.Kind != "slider" {
		t.Fatalf("expected generated rule to be keyed by field, got %+v", rule)
	}
	if err := s.Validate(nil); err == nil {
		t.Fatalf("expected required custom field to fail")
	}

	kinds := reg.Kinds()
	if len(kinds) != len(field.BuiltinKinds())+1 {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}
