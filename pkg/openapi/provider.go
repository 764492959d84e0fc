package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/source"
	"github.com/goliatone/go-formflow/pkg/step"
)

// Extension keys read from property and operation schemas.
const (
	ExtKind        = "x-formflow-kind"
	ExtStep        = "x-formflow-step"
	ExtOrder       = "x-formflow-order"
	ExtVisibleWhen = "x-formflow-visible-when"
	ExtLabel       = "x-formflow-label"
	ExtMultiline   = "x-formflow-multiline"
	ExtMaxBytes    = "x-formflow-max-bytes"
	ExtAccept      = "x-formflow-accept"
	ExtSteps       = "x-formflow-steps"
	ExtLead        = "x-formflow-lead"
)

var (
	// ErrOperationNotFound reports an operation id absent from the document.
	ErrOperationNotFound = errors.New("openapi: operation not found")
	// ErrNoRequestBody reports an operation without a usable request body.
	ErrNoRequestBody = errors.New("openapi: operation has no request body schema")
	// ErrUnsupportedProperty reports a property no field kind can represent.
	ErrUnsupportedProperty = errors.New("openapi: unsupported property")
)

var requestContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

// Options configure a Provider.
type Options struct {
	Resolver *KindResolver
	Lead     *step.Lead
	// Validate runs document validation after loading. Enabled by default.
	Validate bool
	// AllowExternalRefs lets the loader follow references outside the document.
	AllowExternalRefs bool
}

// Option mutates Options.
type Option func(*Options)

// WithKindResolver replaces the default kind resolver.
func WithKindResolver(r *KindResolver) Option {
	return func(o *Options) {
		if r != nil {
			o.Resolver = r
		}
	}
}

// WithLead prepends a lead step. A lead declared through x-formflow-lead on
// the operation takes precedence. Properties whose x-formflow-step names the
// lead join its fields.
func WithLead(lead step.Lead) Option {
	return func(o *Options) {
		l := lead
		o.Lead = &l
	}
}

// WithValidation toggles document validation.
func WithValidation(enabled bool) Option {
	return func(o *Options) { o.Validate = enabled }
}

// WithExternalRefs allows external references.
func WithExternalRefs(enabled bool) Option {
	return func(o *Options) { o.AllowExternalRefs = enabled }
}

// Provider serves the request body of one OpenAPI operation as a field
// source. Load replaces the document and notifies watchers.
type Provider struct {
	operationID string
	options     Options
	static      *source.Static

	mu     sync.RWMutex
	title  string
	method string
	path   string
}

var (
	_ source.Provider = (*Provider)(nil)
	_ source.Watcher  = (*Provider)(nil)
)

// NewProvider parses data and extracts the fields of operationID.
func NewProvider(data []byte, operationID string, opts ...Option) (*Provider, error) {
	options := Options{Resolver: NewKindResolver(), Validate: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	p := &Provider{
		operationID: strings.TrimSpace(operationID),
		options:     options,
		static:      source.NewStatic(source.Snapshot{}),
	}
	if p.operationID == "" {
		return nil, fmt.Errorf("%w: empty operation id", ErrOperationNotFound)
	}
	if err := p.Load(context.Background(), data); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot implements source.Provider.
func (p *Provider) Snapshot(ctx context.Context) (source.Snapshot, error) {
	return p.static.Snapshot(ctx)
}

// Title returns the operation summary, or its id when the summary is empty.
func (p *Provider) Title() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.title
}

// Route returns the method and path of the operation.
func (p *Provider) Route() (method, path string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.method, p.path
}

// Watch implements source.Watcher.
func (p *Provider) Watch(fn func(source.Snapshot)) (stop func()) {
	return p.static.Watch(fn)
}

// Load parses a new revision of the document. On error the previous
// snapshot is kept.
func (p *Provider) Load(ctx context.Context, data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return errors.New("openapi: document payload is empty")
	}
	loader := &openapi3.Loader{
		Context:               ctx,
		IsExternalRefsAllowed: p.options.AllowExternalRefs,
	}
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: load document: %w", err)
	}
	if p.options.Validate {
		if err := doc.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
			return fmt.Errorf("openapi: validate: %w", err)
		}
	}

	method, path, op := findOperation(doc, p.operationID)
	if op == nil {
		return fmt.Errorf("%w: %q", ErrOperationNotFound, p.operationID)
	}
	body := requestSchema(op.RequestBody)
	if body == nil {
		return fmt.Errorf("%w: %q", ErrNoRequestBody, p.operationID)
	}

	snap, err := p.convert(op, body)
	if err != nil {
		return fmt.Errorf("openapi: operation %q: %w", p.operationID, err)
	}

	title := strings.TrimSpace(op.Summary)
	if title == "" {
		title = p.operationID
	}
	p.mu.Lock()
	p.title, p.method, p.path = title, method, path
	p.mu.Unlock()
	p.static.Update(snap)
	return nil
}

func findOperation(doc *openapi3.T, id string) (string, string, *openapi3.Operation) {
	if doc == nil || doc.Paths == nil {
		return "", "", nil
	}
	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for path := range paths {
		keys = append(keys, path)
	}
	sort.Strings(keys)
	for _, path := range keys {
		item := paths[path]
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			if op != nil && op.OperationID == id {
				return method, path, op
			}
		}
	}
	return "", "", nil
}

func requestSchema(ref *openapi3.RequestBodyRef) *openapi3.Schema {
	if ref == nil || ref.Value == nil || len(ref.Value.Content) == 0 {
		return nil
	}
	content := ref.Value.Content
	for _, ct := range requestContentTypes {
		if media := content.Get(ct); media != nil && media.Schema != nil && media.Schema.Value != nil {
			return media.Schema.Value
		}
	}
	for ct, media := range content {
		if strings.HasSuffix(ct, "+json") && media != nil && media.Schema != nil && media.Schema.Value != nil {
			return media.Schema.Value
		}
	}
	return nil
}

type property struct {
	name   string
	order  float64
	sorted bool
	schema *openapi3.Schema
}

func (p *Provider) convert(op *openapi3.Operation, body *openapi3.Schema) (source.Snapshot, error) {
	var snap source.Snapshot

	if raw, ok := op.Extensions[ExtSteps]; ok {
		if err := decodeExtension(raw, &snap.Sections); err != nil {
			return source.Snapshot{}, fmt.Errorf("%s: %w", ExtSteps, err)
		}
	}
	if raw, ok := op.Extensions[ExtLead]; ok {
		var lead step.Section
		if err := decodeExtension(raw, &lead); err != nil {
			return source.Snapshot{}, fmt.Errorf("%s: %w", ExtLead, err)
		}
		snap.Lead = &step.Lead{Section: lead}
	} else if p.options.Lead != nil {
		lead := *p.options.Lead
		lead.Fields = append([]field.Descriptor(nil), p.options.Lead.Fields...)
		snap.Lead = &lead
	}

	props := make([]property, 0, len(body.Properties))
	for name, ref := range body.Properties {
		if ref == nil || ref.Value == nil {
			continue
		}
		order, sorted := numberExtension(ref.Value.Extensions, ExtOrder)
		props = append(props, property{name: name, order: order, sorted: sorted, schema: ref.Value})
	}
	sort.Slice(props, func(i, j int) bool {
		a, b := props[i], props[j]
		if a.sorted != b.sorted {
			return a.sorted
		}
		if a.sorted && a.order != b.order {
			return a.order < b.order
		}
		return a.name < b.name
	})

	required := make(map[string]struct{}, len(body.Required))
	for _, name := range body.Required {
		required[name] = struct{}{}
	}

	for _, prop := range props {
		desc, err := p.descriptor(prop.name, prop.schema)
		if err != nil {
			return source.Snapshot{}, err
		}
		_, desc.Constraints.Required = required[prop.name]
		if snap.Lead != nil && desc.Step != "" && desc.Step == snap.Lead.StepID() {
			snap.Lead.Fields = append(snap.Lead.Fields, desc)
			continue
		}
		snap.Fields = append(snap.Fields, desc)
	}
	return snap, nil
}

func (p *Provider) descriptor(name string, s *openapi3.Schema) (field.Descriptor, error) {
	kind, ok := p.options.Resolver.Resolve(s)
	if !ok {
		return field.Descriptor{}, fmt.Errorf("%w %q of type %q", ErrUnsupportedProperty, name, schemaType(s))
	}

	label := stringExtension(s.Extensions, ExtLabel)
	if label == "" {
		label = strings.TrimSpace(s.Title)
	}
	desc := field.Descriptor{
		ID:          name,
		Kind:        kind,
		Label:       label,
		Help:        strings.TrimSpace(s.Description),
		Step:        stringExtension(s.Extensions, ExtStep),
		VisibleWhen: stringExtension(s.Extensions, ExtVisibleWhen),
	}

	c := &desc.Constraints
	if s.MinLength != 0 {
		c.MinLength = field.IntPtr(clampInt(s.MinLength))
	}
	if s.MaxLength != nil {
		c.MaxLength = field.IntPtr(clampInt(*s.MaxLength))
	}
	c.Pattern = s.Pattern
	if s.Min != nil {
		c.Min = field.FloatPtr(*s.Min)
	}
	if s.Max != nil {
		c.Max = field.FloatPtr(*s.Max)
	}
	c.Options = enumOptions(s.Enum)
	if schemaType(s) == openapi3.TypeArray {
		if s.Items != nil && s.Items.Value != nil {
			c.Options = enumOptions(s.Items.Value.Enum)
		}
		if s.MinItems != 0 {
			c.MinItems = field.IntPtr(clampInt(s.MinItems))
		}
		if s.MaxItems != nil {
			c.MaxItems = field.IntPtr(clampInt(*s.MaxItems))
		}
	}
	if strings.EqualFold(s.Format, "date-time") {
		c.Layout = time.RFC3339
	}
	c.Multiline = boolExtension(s.Extensions, ExtMultiline) || strings.EqualFold(s.Format, "textarea")
	if size, ok := numberExtension(s.Extensions, ExtMaxBytes); ok {
		c.MaxBytes = int64(size)
	}
	c.Accept = listExtension(s.Extensions, ExtAccept)

	if err := desc.Validate(); err != nil {
		return field.Descriptor{}, err
	}
	return desc, nil
}

func enumOptions(values []any) []field.Option {
	if len(values) == 0 {
		return nil
	}
	out := make([]field.Option, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		out = append(out, field.Option{Value: fmt.Sprint(v)})
	}
	return out
}

func clampInt(v uint64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// decodeExtension round-trips an extension value through JSON so decoded
// maps and raw messages are handled alike.
func decodeExtension(raw any, target any) error {
	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = encoded
	}
	return json.Unmarshal(data, target)
}

func stringExtension(ext map[string]any, key string) string {
	raw, ok := ext[key]
	if !ok || raw == nil {
		return ""
	}
	var s string
	if err := decodeExtension(raw, &s); err != nil {
		return strings.TrimSpace(fmt.Sprint(raw))
	}
	return strings.TrimSpace(s)
}

func numberExtension(ext map[string]any, key string) (float64, bool) {
	raw, ok := ext[key]
	if !ok || raw == nil {
		return 0, false
	}
	var n float64
	if err := decodeExtension(raw, &n); err == nil {
		return n, true
	}
	if parsed, err := strconv.ParseFloat(stringExtension(ext, key), 64); err == nil {
		return parsed, true
	}
	return 0, false
}

func boolExtension(ext map[string]any, key string) bool {
	raw, ok := ext[key]
	if !ok || raw == nil {
		return false
	}
	var b bool
	if err := decodeExtension(raw, &b); err == nil {
		return b
	}
	parsed, _ := strconv.ParseBool(stringExtension(ext, key))
	return parsed
}

func listExtension(ext map[string]any, key string) []string {
	raw, ok := ext[key]
	if !ok || raw == nil {
		return nil
	}
	var list []string
	if err := decodeExtension(raw, &list); err != nil {
		list = strings.Split(stringExtension(ext, key), ",")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
