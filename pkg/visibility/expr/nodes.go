package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/visibility"
)

const extrasPrefix = "extras."

type node interface {
	eval(ctx visibility.Context) bool
	walk(fn func(identifier string))
}

type orNode struct {
	left, right node
}

func (n orNode) eval(ctx visibility.Context) bool {
	return n.left.eval(ctx) || n.right.eval(ctx)
}

func (n orNode) walk(fn func(string)) {
	n.left.walk(fn)
	n.right.walk(fn)
}

type andNode struct {
	left, right node
}

func (n andNode) eval(ctx visibility.Context) bool {
	return n.left.eval(ctx) && n.right.eval(ctx)
}

func (n andNode) walk(fn func(string)) {
	n.left.walk(fn)
	n.right.walk(fn)
}

type notNode struct {
	inner node
}

func (n notNode) eval(ctx visibility.Context) bool { return !n.inner.eval(ctx) }
func (n notNode) walk(fn func(string))              { n.inner.walk(fn) }

type truthyNode struct {
	identifier string
}

func (n truthyNode) eval(ctx visibility.Context) bool {
	value, ok := lookup(ctx, n.identifier)
	return ok && truthy(value)
}

func (n truthyNode) walk(fn func(string)) { fn(n.identifier) }

type literalKind int

const (
	litString literalKind = iota
	litNumber
	litBool
	litNull
)

type literal struct {
	kind    literalKind
	text    string
	number  float64
	boolean bool
}

type compareNode struct {
	identifier string
	op         tokenKind
	literal    literal
}

func (n compareNode) walk(fn func(string)) { fn(n.identifier) }

// check rejects operator/literal pairs that have no meaning.
func (n compareNode) check() error {
	equality := n.op == tokenEq || n.op == tokenNeq
	switch {
	case n.op == tokenContains && n.literal.kind != litString && n.literal.kind != litNumber:
		return fmt.Errorf("visibility/expr: %q needs a string or number operand", "contains")
	case n.op == tokenContains:
		return nil
	case n.literal.kind == litNumber:
		return nil
	case !equality:
		return fmt.Errorf("visibility/expr: operator %q only applies to numbers", n.opString())
	}
	return nil
}

func (n compareNode) eval(ctx visibility.Context) bool {
	value, found := lookup(ctx, n.identifier)
	if !found {
		value = nil
	}

	if n.op == tokenContains {
		return contains(value, n.literal.text)
	}

	switch n.literal.kind {
	case litNull:
		return (value == nil) == (n.op == tokenEq)
	case litBool:
		got, _ := coerceBool(value)
		return (got == n.literal.boolean) == (n.op == tokenEq)
	case litNumber:
		got, ok := coerceNumber(value)
		if !ok {
			return n.op == tokenNeq
		}
		return compareNumbers(got, n.op, n.literal.number)
	default:
		return (coerceString(value) == n.literal.text) == (n.op == tokenEq)
	}
}

func compareNumbers(got float64, op tokenKind, want float64) bool {
	switch op {
	case tokenEq:
		return got == want
	case tokenNeq:
		return got != want
	case tokenLt:
		return got < want
	case tokenLte:
		return got <= want
	case tokenGt:
		return got > want
	case tokenGte:
		return got >= want
	default:
		return false
	}
}

func (n compareNode) opString() string {
	switch n.op {
	case tokenEq:
		return "=="
	case tokenNeq:
		return "!="
	case tokenLt:
		return "<"
	case tokenLte:
		return "<="
	case tokenGt:
		return ">"
	case tokenGte:
		return ">="
	case tokenContains:
		return "contains"
	default:
		return "?"
	}
}

func contains(value any, want string) bool {
	switch v := value.(type) {
	case nil:
		return false
	case []any:
		for _, item := range v {
			if coerceString(item) == want {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if item == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(coerceString(v), want)
	}
}

func lookup(ctx visibility.Context, key string) (any, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	if strings.HasPrefix(strings.ToLower(key), extrasPrefix) {
		return lookupMap(ctx.Extras, key[len(extrasPrefix):])
	}
	return lookupMap(ctx.Values, key)
}

func lookupMap(values map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if len(values) == 0 || path == "" {
		return nil, false
	}
	// Exact matches win so dotted field ids resolve directly.
	if v, ok := values[path]; ok {
		return v, true
	}

	var current any = values
	for _, part := range strings.Split(path, ".") {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := typed[part]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	if n, ok := coerceNumber(value); ok {
		return n != 0
	}
	return true
}

func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed, true
		}
		return strings.TrimSpace(v) != "", true
	default:
		return truthy(value), true
	}
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}
