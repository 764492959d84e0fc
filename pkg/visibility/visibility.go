package visibility

import "github.com/goliatone/go-formflow/pkg/answer"

// Evaluator decides whether a field or step is visible based on a rule string
// and the answers collected so far.
type Evaluator interface {
	Eval(subject, rule string, ctx Context) (bool, error)
}

// Checker is implemented by evaluators that can reject malformed rules before
// a flow starts.
type Checker interface {
	Check(rule string) error
}

// Context provides inputs to an Evaluator. Values holds the raw answers keyed
// by field id while Extras lets callers inject arbitrary context such as user
// roles or feature flags.
type Context struct {
	Values map[string]any
	Extras map[string]any
}

// ContextFor builds a Context from an answer set.
func ContextFor(answers answer.Set, extras map[string]any) Context {
	return Context{Values: answers.Raw(), Extras: extras}
}

// EvaluatorFunc adapts a function into an Evaluator.
type EvaluatorFunc func(subject, rule string, ctx Context) (bool, error)

// Eval delegates to the underlying function.
func (fn EvaluatorFunc) Eval(subject, rule string, ctx Context) (bool, error) {
	return fn(subject, rule, ctx)
}

// Always is an Evaluator that treats every rule as satisfied.
var Always Evaluator = EvaluatorFunc(func(string, string, Context) (bool, error) {
	return true, nil
})
