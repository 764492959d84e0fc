package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-formflow/pkg/visibility"
)

const extensionNamespace = "x-formflow"

var (
	propertyExtensions = map[string]struct{}{
		ExtKind: {}, ExtStep: {}, ExtOrder: {}, ExtVisibleWhen: {}, ExtLabel: {},
		ExtMultiline: {}, ExtMaxBytes: {}, ExtAccept: {},
	}
	operationExtensions = map[string]struct{}{
		ExtSteps: {}, ExtLead: {},
	}
)

// Finding is one lint violation.
type Finding struct {
	Location string
	Message  string
}

func (f Finding) String() string {
	return f.Location + " -> " + f.Message
}

// Lint reports misplaced or malformed x-formflow extensions across every
// operation of the document. Visibility rules are checked when checker is
// not nil.
func Lint(ctx context.Context, data []byte, checker visibility.Checker) ([]Finding, error) {
	loader := &openapi3.Loader{Context: ctx}
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: load document: %w", err)
	}
	if doc.Paths == nil {
		return nil, nil
	}

	var out []Finding
	paths := doc.Paths.Map()
	for path, item := range paths {
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			id := op.OperationID
			if id == "" {
				id = strings.ToLower(method) + ":" + path
			}
			base := []string{"operation", id}
			out = append(out, lintExtensions(base, op.Extensions, operationExtensions, checker)...)
			if raw, ok := op.Extensions[ExtSteps]; ok {
				out = append(out, lintSections(base, raw, checker)...)
			}
			if body := requestSchema(op.RequestBody); body != nil {
				out = append(out, lintProperties(append(base, "requestBody"), body, checker)...)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Location == out[j].Location {
			return out[i].Message < out[j].Message
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}

func lintProperties(path []string, schema *openapi3.Schema, checker visibility.Checker) []Finding {
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Finding
	for _, name := range names {
		ref := schema.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		next := appendPath(path, "properties."+name)
		out = append(out, lintExtensions(next, ref.Value.Extensions, propertyExtensions, checker)...)
		if schemaType(ref.Value) == openapi3.TypeObject {
			out = append(out, Finding{Location: formatLocation(next), Message: "nested objects cannot be presented as fields"})
		}
	}
	return out
}

func lintExtensions(path []string, ext map[string]any, allowed map[string]struct{}, checker visibility.Checker) []Finding {
	keys := make([]string, 0, len(ext))
	for key := range ext {
		if key == extensionNamespace || strings.HasPrefix(key, extensionNamespace+"-") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []Finding
	loc := formatLocation(path)
	for _, key := range keys {
		if _, ok := allowed[key]; !ok {
			out = append(out, Finding{Location: loc, Message: fmt.Sprintf("unsupported extension %q", key)})
			continue
		}
		switch key {
		case ExtOrder, ExtMaxBytes:
			if _, ok := numberExtension(ext, key); !ok {
				out = append(out, Finding{Location: loc, Message: fmt.Sprintf("%s must be a number", key)})
			}
		case ExtVisibleWhen:
			if checker == nil {
				continue
			}
			if err := checker.Check(stringExtension(ext, key)); err != nil {
				out = append(out, Finding{Location: loc, Message: fmt.Sprintf("%s: %v", key, err)})
			}
		}
	}
	return out
}

func lintSections(path []string, raw any, checker visibility.Checker) []Finding {
	var sections []struct {
		ID   string `json:"id"`
		When string `json:"when"`
	}
	loc := formatLocation(appendPath(path, ExtSteps))
	if err := decodeExtension(raw, &sections); err != nil {
		return []Finding{{Location: loc, Message: "must be a list of {id, title, description, when}"}}
	}
	var out []Finding
	seen := make(map[string]struct{}, len(sections))
	for idx, s := range sections {
		if strings.TrimSpace(s.ID) == "" {
			out = append(out, Finding{Location: loc, Message: fmt.Sprintf("step %d has no id", idx)})
			continue
		}
		if _, dup := seen[s.ID]; dup {
			out = append(out, Finding{Location: loc, Message: fmt.Sprintf("step %q declared twice", s.ID)})
		}
		seen[s.ID] = struct{}{}
		if checker != nil && s.When != "" {
			if err := checker.Check(s.When); err != nil {
				out = append(out, Finding{Location: loc, Message: fmt.Sprintf("step %q: %v", s.ID, err)})
			}
		}
	}
	return out
}

func appendPath(path []string, segment string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = segment
	return out
}

func formatLocation(path []string) string {
	return strings.Join(path, ".")
}
