package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
)

// Rule is the validation rule for one field. It is plain data so composed
// schemas compare structurally; Check interprets it.
type Rule struct {
	Field     string
	Kind      field.Kind
	Required  bool
	MinLength *int
	MaxLength *int
	Pattern   string
	Min       *float64
	Max       *float64
	Integer   bool
	Options   []string
	MinItems  *int
	MaxItems  *int
	MaxBytes  int64
	Accept    []string
}

// Check validates a single answer. present reports whether the field has an
// answer at all. It returns the failure messages, nil when valid.
func (r Rule) Check(value answer.Value, present bool) []string {
	if !present || value == nil {
		if r.Required {
			return []string{"required"}
		}
		return nil
	}
	if value.Kind() != r.Kind {
		return []string{fmt.Sprintf("expected %s answer, got %s", r.Kind, value.Kind())}
	}

	switch v := value.(type) {
	case answer.Text:
		return r.checkText(v.Value)
	case answer.Number:
		return r.checkNumber(v.Value)
	case answer.Rating:
		return r.checkNumber(float64(v.Value))
	case answer.Date:
		if r.Required && v.Value.IsZero() {
			return []string{"required"}
		}
	case answer.Choice:
		return r.checkChoice(v.Value)
	case answer.MultiChoice:
		return r.checkMulti(v.Values)
	case answer.File:
		return r.checkFile(v)
	}
	return nil
}

func (r Rule) checkText(value string) []string {
	if strings.TrimSpace(value) == "" {
		if r.Required {
			return []string{"required"}
		}
		return nil
	}
	var out []string
	length := utf8.RuneCountInString(value)
	if r.MinLength != nil && length < *r.MinLength {
		out = append(out, fmt.Sprintf("min length %d", *r.MinLength))
	}
	if r.MaxLength != nil && length > *r.MaxLength {
		out = append(out, fmt.Sprintf("max length %d", *r.MaxLength))
	}
	if r.Pattern != "" {
		if re, err := compilePattern(r.Pattern); err == nil && !re.MatchString(value) {
			out = append(out, "does not match required pattern")
		}
	}
	return out
}

func (r Rule) checkNumber(value float64) []string {
	var out []string
	if r.Integer && value != float64(int64(value)) {
		out = append(out, "must be a whole number")
	}
	if r.Min != nil && value < *r.Min {
		out = append(out, fmt.Sprintf("min %v", *r.Min))
	}
	if r.Max != nil && value > *r.Max {
		out = append(out, fmt.Sprintf("max %v", *r.Max))
	}
	return out
}

func (r Rule) checkChoice(value string) []string {
	if value == "" {
		if r.Required {
			return []string{"required"}
		}
		return nil
	}
	if len(r.Options) > 0 && !containsString(r.Options, value) {
		return []string{fmt.Sprintf("%q is not an allowed option", value)}
	}
	return nil
}

func (r Rule) checkMulti(values []string) []string {
	if len(values) == 0 && r.Required {
		return []string{"required"}
	}
	var out []string
	if r.MinItems != nil && len(values) < *r.MinItems {
		out = append(out, fmt.Sprintf("select at least %d", *r.MinItems))
	}
	if r.MaxItems != nil && len(values) > *r.MaxItems {
		out = append(out, fmt.Sprintf("select at most %d", *r.MaxItems))
	}
	for _, value := range values {
		if len(r.Options) > 0 && !containsString(r.Options, value) {
			out = append(out, fmt.Sprintf("%q is not an allowed option", value))
		}
	}
	return out
}

func (r Rule) checkFile(file answer.File) []string {
	if len(file.Data) == 0 {
		if r.Required {
			return []string{"required"}
		}
		return nil
	}
	var out []string
	if r.MaxBytes > 0 && file.Size() > r.MaxBytes {
		out = append(out, fmt.Sprintf("max size %d bytes", r.MaxBytes))
	}
	if len(r.Accept) > 0 && !acceptsContentType(r.Accept, file.ContentType) {
		out = append(out, fmt.Sprintf("content type %q not accepted", file.ContentType))
	}
	return out
}

func acceptsContentType(accept []string, contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	for _, pattern := range accept {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == contentType || pattern == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

var patternCache sync.Map

func compilePattern(expr string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(expr); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache.Store(expr, re)
	return re, nil
}
