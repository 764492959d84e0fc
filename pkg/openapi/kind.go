package openapi

import (
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-formflow/pkg/field"
)

// Matcher decides whether a kind applies to a request-body property.
type Matcher func(schema *openapi3.Schema) bool

type kindRule struct {
	kind     field.Kind
	priority int
	match    Matcher
	order    int
}

// KindResolver picks a field kind for a property schema. An explicit
// x-formflow-kind extension always wins; otherwise higher priority matchers
// run first and ties fall back to registration order.
type KindResolver struct {
	mu    sync.RWMutex
	rules []kindRule
}

// NewKindResolver returns a resolver with the built-in matchers registered.
func NewKindResolver() *KindResolver {
	r := &KindResolver{}
	r.registerBuiltins()
	return r
}

// Register adds a matcher for kind. Later registrations with the same
// priority lose to earlier ones.
func (r *KindResolver) Register(kind field.Kind, priority int, matcher Matcher) {
	if r == nil || matcher == nil {
		return
	}
	trimmed := field.Kind(strings.TrimSpace(string(kind)))
	if trimmed == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, kindRule{
		kind:     trimmed,
		priority: priority,
		match:    matcher,
		order:    len(r.rules),
	})
}

// Resolve returns the kind for schema.
func (r *KindResolver) Resolve(schema *openapi3.Schema) (field.Kind, bool) {
	if schema == nil {
		return "", false
	}
	if explicit := stringExtension(schema.Extensions, ExtKind); explicit != "" {
		return field.Kind(strings.ToLower(explicit)), true
	}
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	rules := append([]kindRule(nil), r.rules...)
	r.mu.RUnlock()
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].priority == rules[j].priority {
			return rules[i].order < rules[j].order
		}
		return rules[i].priority > rules[j].priority
	})
	for _, entry := range rules {
		if entry.match(schema) {
			return entry.kind, true
		}
	}
	return "", false
}

func (r *KindResolver) registerBuiltins() {
	r.Register(field.KindFile, 100, func(s *openapi3.Schema) bool {
		if schemaType(s) != openapi3.TypeString {
			return false
		}
		format := strings.ToLower(s.Format)
		return format == "binary" || format == "byte"
	})

	r.Register(field.KindMultiChoice, 90, func(s *openapi3.Schema) bool {
		if schemaType(s) != openapi3.TypeArray || s.Items == nil || s.Items.Value == nil {
			return false
		}
		return len(s.Items.Value.Enum) > 0
	})

	r.Register(field.KindRating, 85, func(s *openapi3.Schema) bool {
		return schemaType(s) == openapi3.TypeInteger && strings.EqualFold(s.Format, "rating")
	})

	r.Register(field.KindChoice, 80, func(s *openapi3.Schema) bool {
		switch schemaType(s) {
		case openapi3.TypeArray, openapi3.TypeObject:
			return false
		}
		return len(s.Enum) > 0
	})

	r.Register(field.KindDate, 70, func(s *openapi3.Schema) bool {
		if schemaType(s) != openapi3.TypeString {
			return false
		}
		format := strings.ToLower(s.Format)
		return format == "date" || format == "date-time"
	})

	r.Register(field.KindBoolean, 60, func(s *openapi3.Schema) bool {
		return schemaType(s) == openapi3.TypeBoolean
	})

	r.Register(field.KindNumber, 50, func(s *openapi3.Schema) bool {
		t := schemaType(s)
		return t == openapi3.TypeNumber || t == openapi3.TypeInteger
	})

	r.Register(field.KindText, 10, func(s *openapi3.Schema) bool {
		return schemaType(s) == openapi3.TypeString
	})
}

func schemaType(s *openapi3.Schema) string {
	if s == nil || s.Type == nil {
		return ""
	}
	for _, t := range s.Type.Slice() {
		if t != "" && t != "null" {
			return t
		}
	}
	return ""
}
