package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/pkg/visibility"
)

// Evaluator is a small, dependency-free visibility evaluator.
//
// Supported operators:
// - truthiness: `newsletter`, `!newsletter`
// - equality: `answer == "yes"`, `guests != 1`, `notes == null`
// - ordering on numbers: `rating >= 4`, `guests < 3`
// - membership: `amenities contains "parking"` (multi-choice or substring)
// - composition: `a == "x" && (b || !c)`
//
// Identifiers resolve against visibility.Context.Values (with dot-path
// traversal) and visibility.Context.Extras (via the `extras.` prefix).
// Compiled programs are cached per rule string.
type Evaluator struct {
	programs sync.Map
}

var _ visibility.Evaluator = (*Evaluator)(nil)
var _ visibility.Checker = (*Evaluator)(nil)

// New returns an Evaluator with an empty program cache.
func New() *Evaluator { return &Evaluator{} }

// Eval compiles (or reuses) rule and evaluates it. An empty rule is always
// true.
func (e *Evaluator) Eval(subject, rule string, ctx visibility.Context) (bool, error) {
	program, err := e.program(rule)
	if err != nil {
		return false, fmt.Errorf("%w (subject %q)", err, subject)
	}
	return program.Eval(ctx), nil
}

// Check reports whether rule compiles.
func (e *Evaluator) Check(rule string) error {
	_, err := e.program(rule)
	return err
}

func (e *Evaluator) program(rule string) (*Program, error) {
	key := strings.TrimSpace(rule)
	if cached, ok := e.programs.Load(key); ok {
		return cached.(*Program), nil
	}
	program, err := Compile(key)
	if err != nil {
		return nil, err
	}
	actual, _ := e.programs.LoadOrStore(key, program)
	return actual.(*Program), nil
}

// Program is a compiled rule. The zero Program (empty rule) evaluates true.
type Program struct {
	source string
	root   node
}

// Compile parses rule into a Program. Operator and literal combinations are
// checked here so evaluation itself cannot fail.
func Compile(rule string) (*Program, error) {
	trimmed := strings.TrimSpace(rule)
	if trimmed == "" {
		return &Program{}, nil
	}
	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	root, err := parse(tokens)
	if err != nil {
		return nil, err
	}
	return &Program{source: trimmed, root: root}, nil
}

// MustCompile panics when rule does not compile.
func MustCompile(rule string) *Program {
	p, err := Compile(rule)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the rule the program was compiled from.
func (p *Program) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Identifiers lists the identifiers referenced by the rule, in first-seen
// order, excluding extras.
func (p *Program) Identifiers() []string {
	if p == nil || p.root == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	p.root.walk(func(ident string) {
		if strings.HasPrefix(strings.ToLower(ident), extrasPrefix) {
			return
		}
		if _, ok := seen[ident]; ok {
			return
		}
		seen[ident] = struct{}{}
		out = append(out, ident)
	})
	return out
}

// Eval runs the program against ctx.
func (p *Program) Eval(ctx visibility.Context) bool {
	if p == nil || p.root == nil {
		return true
	}
	return p.root.eval(ctx)
}
