// Package formflow wires field sources, rule generators, transformers and a
// submitter into running flows. Callers that need finer control can use the
// packages under pkg/ directly.
package formflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/flow"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/source"
	"github.com/goliatone/go-formflow/pkg/step"
	"github.com/goliatone/go-formflow/pkg/submit"
	"github.com/goliatone/go-formflow/pkg/transform"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

// Machine aliases flow.Machine for callers that only import the root package.
type Machine = flow.Machine

// Payload aliases submit.Payload.
type Payload = submit.Payload

var (
	// ErrNoProvider is returned by Start without a field source.
	ErrNoProvider = errors.New("formflow: field source is required")
	// ErrNoSubmitter is returned by Start without a submitter.
	ErrNoSubmitter = errors.New("formflow: submitter is required")
)

// Option customises an Engine.
type Option func(*Engine)

// WithProvider sets the field source. Providers that also implement
// source.Watcher keep started flows in sync with their updates.
func WithProvider(p source.Provider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithFields uses a fixed field list as the source.
func WithFields(fields ...field.Descriptor) Option {
	return func(e *Engine) {
		e.provider = source.NewStatic(source.Snapshot{Fields: fields})
	}
}

// WithLead prepends a lead step when the source does not declare one.
func WithLead(lead step.Lead) Option {
	return func(e *Engine) {
		l := lead
		e.lead = &l
	}
}

// WithRules sets the rule-generator registry.
func WithRules(reg *schema.Registry) Option {
	return func(e *Engine) {
		if reg != nil {
			e.rules = reg
		}
	}
}

// WithTransformers sets the transformer registry.
func WithTransformers(reg *transform.Registry) Option {
	return func(e *Engine) {
		if reg != nil {
			e.transformers = reg
		}
	}
}

// WithUploader routes file answers through up instead of inlining them.
func WithUploader(up transform.Uploader) Option {
	return func(e *Engine) {
		e.uploader = up
	}
}

// WithSubmitter sets the external submitter.
func WithSubmitter(s submit.Submitter) Option {
	return func(e *Engine) {
		e.submitter = s
	}
}

// WithEvaluator sets the visibility evaluator.
func WithEvaluator(eval visibility.Evaluator) Option {
	return func(e *Engine) {
		if eval != nil {
			e.evaluator = eval
		}
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSubmitOptions forwards options to every coordinator.
func WithSubmitOptions(opts ...submit.Option) Option {
	return func(e *Engine) {
		e.submitOpts = append(e.submitOpts, opts...)
	}
}

// WithFlowOptions forwards options to every machine.
func WithFlowOptions(opts ...flow.Option) Option {
	return func(e *Engine) {
		e.flowOpts = append(e.flowOpts, opts...)
	}
}

// Engine starts flows from a field source.
type Engine struct {
	provider     source.Provider
	lead         *step.Lead
	rules        *schema.Registry
	transformers *transform.Registry
	uploader     transform.Uploader
	submitter    submit.Submitter
	evaluator    visibility.Evaluator
	logger       *slog.Logger
	submitOpts   []submit.Option
	flowOpts     []flow.Option
}

// New constructs an Engine with the built-in registries and evaluator.
func New(opts ...Option) *Engine {
	e := &Engine{
		rules:        schema.NewRegistry(),
		transformers: transform.NewRegistry(),
		evaluator:    step.DefaultEvaluator(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.uploader != nil {
		// The registry may be shared, so the upload transformer goes into a copy.
		e.transformers = withUploader(e.transformers, e.uploader)
	}
	return e
}

// Steps loads the current snapshot and derives its steps.
func (e *Engine) Steps(ctx context.Context) ([]step.Definition, error) {
	if e.provider == nil {
		return nil, ErrNoProvider
	}
	snap, err := e.provider.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("formflow: load fields: %w", err)
	}
	return e.derive(snap)
}

// Start builds a machine for a new flow. When the provider announces
// changes, the machine reloads its steps until it is dismissed or its
// submission succeeds.
func (e *Engine) Start(ctx context.Context) (*flow.Machine, error) {
	if e.submitter == nil {
		return nil, ErrNoSubmitter
	}
	steps, err := e.Steps(ctx)
	if err != nil {
		return nil, err
	}

	coordOpts := append([]submit.Option{
		submit.WithTransformers(e.transformers),
		submit.WithLogger(e.logger),
	}, e.submitOpts...)
	coordinator := submit.NewCoordinator(e.submitter, coordOpts...)

	flowOpts := append([]flow.Option{
		flow.WithEvaluator(e.evaluator),
		flow.WithLogger(e.logger),
	}, e.flowOpts...)
	m, err := flow.New(steps, coordinator, flowOpts...)
	if err != nil {
		return nil, fmt.Errorf("formflow: start: %w", err)
	}

	if watcher, ok := e.provider.(source.Watcher); ok {
		e.follow(m, watcher)
	}
	e.logger.Info("flow started", "flow_id", m.FlowID(), "steps", len(steps))
	return m, nil
}

func (e *Engine) follow(m *flow.Machine, watcher source.Watcher) {
	logger := e.logger.With("flow_id", m.FlowID())
	stopWatch := watcher.Watch(func(snap source.Snapshot) {
		steps, err := e.derive(snap)
		if err != nil {
			logger.Warn("ignoring field source update", "error", err)
			return
		}
		if err := m.Reload(steps); err != nil {
			logger.Warn("reload rejected", "error", err)
			return
		}
		logger.Debug("flow reloaded", "steps", len(steps))
	})

	var once sync.Once
	m.Subscribe(func(ev flow.Event) {
		done := ev.Type == flow.EventDismissed ||
			(ev.Type == flow.EventSubmission && ev.State.Submission.Status == submit.StatusSucceeded)
		if done {
			once.Do(stopWatch)
		}
	})
}

func (e *Engine) derive(snap source.Snapshot) ([]step.Definition, error) {
	opts := snap.DeriveOptions()
	if snap.Lead == nil && e.lead != nil {
		opts = append(opts, step.WithLead(*e.lead))
	}
	opts = append(opts, step.WithRegistry(e.rules), step.WithEvaluator(e.evaluator))
	steps, err := step.Derive(snap.Fields, opts...)
	if err != nil {
		return nil, fmt.Errorf("formflow: derive steps: %w", err)
	}
	return steps, nil
}

func withUploader(base *transform.Registry, up transform.Uploader) *transform.Registry {
	reg := transform.NewEmptyRegistry()
	for _, kind := range base.Kinds() {
		if kind == field.KindFile {
			continue
		}
		if t, ok := base.Lookup(kind); ok {
			reg.MustRegister(kind, t)
		}
	}
	reg.MustRegister(field.KindFile, transform.NewUploadTransformer(up))
	return reg
}
