package step

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

// Option customises Derive.
type Option func(*options)

type options struct {
	lead      *Lead
	sections  map[string]Section
	registry  *schema.Registry
	evaluator visibility.Evaluator
}

// WithLead prepends a fixed lead step.
func WithLead(lead Lead) Option {
	return func(o *options) {
		copied := lead
		o.lead = &copied
	}
}

// WithSections attaches titles, descriptions and preconditions to steps by
// key. Sections without a matching step are ignored.
func WithSections(sections ...Section) Option {
	return func(o *options) {
		if o.sections == nil {
			o.sections = make(map[string]Section, len(sections))
		}
		for _, s := range sections {
			if id := strings.TrimSpace(s.ID); id != "" {
				o.sections[id] = s
			}
		}
	}
}

// WithRegistry sets the rule-generator registry used to compose step schemas.
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) {
		if reg != nil {
			o.registry = reg
		}
	}
}

// WithEvaluator sets the evaluator used to check rule syntax. Rules are only
// checked when the evaluator implements visibility.Checker.
func WithEvaluator(eval visibility.Evaluator) Option {
	return func(o *options) {
		if eval != nil {
			o.evaluator = eval
		}
	}
}

type group struct {
	key    string
	fields []field.Descriptor
}

// Derive groups consecutive fields sharing a Step key into definitions.
// Fields with an empty key join the group in progress. A key that reappears
// after another key starts a new step with a numbered id. The same input
// always derives equal definitions.
func Derive(fields []field.Descriptor, opts ...Option) ([]Definition, error) {
	cfg := options{
		registry:  schema.NewRegistry(),
		evaluator: defaultEvaluator,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	seen := make(map[string]struct{}, len(fields))
	ids := make(map[string]struct{})
	var out []Definition

	if cfg.lead != nil {
		def, err := cfg.build(0, cfg.lead.StepID(), cfg.lead.Section, cfg.lead.Fields, seen)
		if err != nil {
			return nil, err
		}
		def.Lead = true
		ids[def.ID] = struct{}{}
		out = append(out, def)
	}

	for _, g := range groupFields(fields) {
		key := g.key
		id := key
		if id == "" {
			id = fmt.Sprintf("step-%d", len(out)+1)
		}
		id = uniqueID(ids, id)
		def, err := cfg.build(len(out), id, cfg.sections[key], g.fields, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// uniqueID returns base, or base-N with the smallest N >= 2 not yet taken,
// and records the result.
func uniqueID(taken map[string]struct{}, base string) string {
	id := base
	for n := 2; ; n++ {
		if _, used := taken[id]; !used {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	taken[id] = struct{}{}
	return id
}

func groupFields(fields []field.Descriptor) []group {
	var groups []group
	for _, f := range fields {
		key := strings.TrimSpace(f.Step)
		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			if key == "" || key == last.key {
				last.fields = append(last.fields, f)
				continue
			}
		}
		groups = append(groups, group{key: key, fields: []field.Descriptor{f}})
	}
	return groups
}

func (o options) build(index int, id string, section Section, fields []field.Descriptor, seen map[string]struct{}) (Definition, error) {
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return Definition{}, fmt.Errorf("step %q: %w", id, err)
		}
		if _, dup := seen[f.ID]; dup {
			return Definition{}, fmt.Errorf("%w: %q", ErrDuplicateField, f.ID)
		}
		seen[f.ID] = struct{}{}
		if err := o.checkRule(f.ID, f.VisibleWhen); err != nil {
			return Definition{}, err
		}
	}
	if err := o.checkRule(id, section.When); err != nil {
		return Definition{}, err
	}

	composed, err := schema.Compose(o.registry, fields)
	if err != nil {
		return Definition{}, fmt.Errorf("step %q: %w", id, err)
	}

	return Definition{
		Index:       index,
		ID:          id,
		Title:       section.Title,
		Description: section.Description,
		When:        strings.TrimSpace(section.When),
		Fields:      append([]field.Descriptor(nil), fields...),
		Schema:      composed,
	}, nil
}

func (o options) checkRule(subject, rule string) error {
	if strings.TrimSpace(rule) == "" {
		return nil
	}
	checker, ok := o.evaluator.(visibility.Checker)
	if !ok {
		return nil
	}
	if err := checker.Check(rule); err != nil {
		return fmt.Errorf("%w for %q: %v", ErrInvalidRule, subject, err)
	}
	return nil
}
