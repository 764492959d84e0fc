package expr

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

func TestEvaluatorComparisons(t *testing.T) {
	t.Parallel()

	eval := New()
	ctx := visibility.ContextFor(answer.Set{
		"attending":  answer.Choice{Value: "yes"},
		"guests":     answer.Number{Value: 3},
		"rating":     answer.Rating{Value: 4},
		"newsletter": answer.Boolean{Value: false},
		"amenities":  answer.MultiChoice{Values: []string{"wifi", "parking"}},
		"notes":      answer.Text{Value: "ground floor please"},
	}, map[string]any{"role": "admin"})

	cases := []struct {
		rule string
		want bool
	}{
		{`attending == "yes"`, true},
		{`attending == 'no'`, false},
		{`attending != yes`, false},
		{`guests > 2`, true},
		{`guests <= 2`, false},
		{`rating >= 4 && guests < 10`, true},
		{`newsletter`, false},
		{`!newsletter`, true},
		{`newsletter == false`, true},
		{`amenities contains "parking"`, true},
		{`amenities contains pool`, false},
		{`notes contains "floor"`, true},
		{`missing == null`, true},
		{`missing != null`, false},
		{`missing > 1`, false},
		{`missing != 1`, true},
		{`extras.role == "admin"`, true},
		{`(attending == "no" || guests == 3) && !missing`, true},
		{``, true},
	}

	for _, tc := range cases {
		got, err := eval.Eval("subject", tc.rule, ctx)
		if err != nil {
			t.Fatalf("Eval(%q) returned error: %v", tc.rule, err)
		}
		if got != tc.want {
			t.Fatalf("Eval(%q) = %v, want %v", tc.rule, got, tc.want)
		}
	}
}

func TestEvaluatorDotLookup(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("cta.headline", `cta.headline != ""`, visibility.Context{
		Values: map[string]any{"cta.headline": "Hello"},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for flattened dotted key")
	}

	ok, err = eval.Eval("cta.headline", `cta.headline == "Hello"`, visibility.Context{
		Values: map[string]any{"cta": map[string]any{"headline": "Hello"}},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for nested lookup")
	}
}

func TestCompileRejectsMalformedRules(t *testing.T) {
	t.Parallel()

	rules := []string{
		`a = 1`,
		`a & b`,
		`a | b`,
		`(a == 1`,
		`a == "open`,
		`a ==`,
		`a < "x"`,
		`a >= true`,
		`a contains null`,
		`== 1`,
		`a b`,
	}
	eval := New()
	for _, rule := range rules {
		if err := eval.Check(rule); err == nil {
			t.Fatalf("expected %q to be rejected", rule)
		}
	}
}

func TestProgramIdentifiers(t *testing.T) {
	t.Parallel()

	program := MustCompile(`a == 1 || (b && !a) || extras.flag || c contains "x"`)
	if diff := cmp.Diff([]string{"a", "b", "c"}, program.Identifiers()); diff != "" {
		t.Fatalf("identifiers mismatch (-want +got):\n%s", diff)
	}
	if program.Source() == "" {
		t.Fatalf("expected source to be recorded")
	}
}

func TestEvaluatorCachesPrograms(t *testing.T) {
	t.Parallel()

	eval := New()
	first, err := eval.program(`a == 1`)
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	second, err := eval.program(`  a == 1 `)
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached program to be reused")
	}
}
