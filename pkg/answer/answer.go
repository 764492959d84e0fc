// Package answer models the values a user supplies for fields. Value is a
// tagged union: each variant reports the field.Kind it answers and a Raw form
// used by visibility rules. Set maps field ids to values.
package answer

import (
	"sort"
	"time"

	"github.com/goliatone/go-formflow/pkg/field"
)

// Value is one answer. Variants holding slices share them with whoever built
// the value; Copy detaches them.
type Value interface {
	Kind() field.Kind
	// Raw returns a plain Go value (string, float64, bool, []any) suitable
	// for rule evaluation and logging.
	Raw() any
}

// Text answers text fields.
type Text struct {
	Value string
}

func (Text) Kind() field.Kind { return field.KindText }
func (v Text) Raw() any        { return v.Value }

// Number answers number fields.
type Number struct {
	Value float64
}

func (Number) Kind() field.Kind { return field.KindNumber }
func (v Number) Raw() any        { return v.Value }

// Boolean answers boolean fields.
type Boolean struct {
	Value bool
}

func (Boolean) Kind() field.Kind { return field.KindBoolean }
func (v Boolean) Raw() any        { return v.Value }

// Date answers date fields. Only the calendar date is significant.
type Date struct {
	Value time.Time
}

func (Date) Kind() field.Kind { return field.KindDate }
func (v Date) Raw() any        { return v.Value.Format(field.DefaultDateLayout) }

// Choice answers single-choice fields with the selected option value.
type Choice struct {
	Value string
}

func (Choice) Kind() field.Kind { return field.KindChoice }
func (v Choice) Raw() any        { return v.Value }

// MultiChoice answers multi-choice fields with the selected option values.
type MultiChoice struct {
	Values []string
}

func (MultiChoice) Kind() field.Kind { return field.KindMultiChoice }

func (v MultiChoice) Raw() any {
	out := make([]any, len(v.Values))
	for i, s := range v.Values {
		out[i] = s
	}
	return out
}

// Contains reports whether value was selected.
func (v MultiChoice) Contains(value string) bool {
	for _, s := range v.Values {
		if s == value {
			return true
		}
	}
	return false
}

// Rating answers rating fields.
type Rating struct {
	Value int
}

func (Rating) Kind() field.Kind { return field.KindRating }
func (v Rating) Raw() any        { return v.Value }

// File answers file fields. Data holds the content read by the presentation
// layer; transformers decide whether it is inlined or uploaded.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (File) Kind() field.Kind { return field.KindFile }
func (v File) Raw() any        { return v.Name }

// Size reports the byte length of the file content.
func (v File) Size() int64 { return int64(len(v.Data)) }

// Copy returns v with its slices duplicated, so later writes to the caller's
// slices do not reach the copy.
func Copy(v Value) Value {
	switch t := v.(type) {
	case MultiChoice:
		if t.Values != nil {
			t.Values = append([]string(nil), t.Values...)
		}
		return t
	case File:
		if t.Data != nil {
			t.Data = append([]byte(nil), t.Data...)
		}
		return t
	default:
		return v
	}
}

// Set maps field ids to answers. The zero value is an empty, read-only set;
// use Clone or make to obtain a writable one.
type Set map[string]Value

// Get returns the answer for id.
func (s Set) Get(id string) (Value, bool) {
	v, ok := s[id]
	return v, ok
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = Copy(v)
	}
	return out
}

// Only returns a copy of the answers whose ids appear in ids.
func (s Set) Only(ids []string) Set {
	out := make(Set, len(ids))
	for _, id := range ids {
		if v, ok := s[id]; ok {
			out[id] = Copy(v)
		}
	}
	return out
}

// Raw flattens the set into the map consumed by visibility rules.
func (s Set) Raw() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if v == nil {
			continue
		}
		out[k] = v.Raw()
	}
	return out
}

// IDs returns the answered field ids sorted.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
