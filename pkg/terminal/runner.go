// Package terminal presents a flow in the terminal: it prompts the visible
// fields of each step, offers navigation and reports validation issues and
// submission failures.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/flow"
	"github.com/goliatone/go-formflow/pkg/receipt"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submit"
)

const (
	actionNext   = "Next"
	actionSubmit = "Submit"
	actionBack   = "Back"
	skipOption   = "(skip)"
)

// Theme holds message prefixes.
type Theme struct {
	InfoPrefix  string
	ErrorPrefix string
}

// FileReader loads the content of a file answer.
type FileReader func(path string) ([]byte, error)

// Option configures a Runner.
type Option func(*Runner)

// WithPromptDriver overrides the survey driver.
func WithPromptDriver(driver PromptDriver) Option {
	return func(r *Runner) {
		if driver != nil {
			r.driver = driver
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTheme applies message prefixes.
func WithTheme(theme Theme) Option {
	return func(r *Runner) {
		r.theme = theme
	}
}

// WithFileReader replaces os.ReadFile for file answers.
func WithFileReader(fn FileReader) Option {
	return func(r *Runner) {
		if fn != nil {
			r.readFile = fn
		}
	}
}

// WithReceipt prints a summary of the submitted answers, titled title,
// after a successful submission.
func WithReceipt(renderer *receipt.Renderer, title string) Option {
	return func(r *Runner) {
		r.receipt = renderer
		r.receiptTitle = title
	}
}

// Runner drives a flow.Machine from the terminal.
type Runner struct {
	driver       PromptDriver
	logger       *slog.Logger
	theme        Theme
	readFile     FileReader
	receipt      *receipt.Renderer
	receiptTitle string
}

// New returns a runner using the survey driver unless overridden.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:   slog.Default(),
		theme:    Theme{ErrorPrefix: "! "},
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.driver == nil {
		r.driver = NewSurveyDriver(nil)
	}
	return r
}

// Run presents m until its submission succeeds, the user declines to retry
// a failed submission, or an error occurs. It returns the final submission
// state.
func (r *Runner) Run(ctx context.Context, m *flow.Machine) (submit.State, error) {
	if m == nil {
		return submit.State{}, ErrNilMachine
	}
	retry := false
	for {
		if err := ctx.Err(); err != nil {
			return m.State().Submission, err
		}
		st := m.State()
		if st.Submission.Status == submit.StatusSucceeded {
			return st.Submission, nil
		}
		if !st.Active {
			return st.Submission, flow.ErrFlowDismissed
		}

		if !retry {
			back, err := r.presentStep(ctx, m)
			if err != nil {
				return st.Submission, err
			}
			if back {
				if _, err := m.Retreat(); err != nil && !errors.Is(err, flow.ErrAtFirstStep) {
					return st.Submission, err
				}
				continue
			}
		}
		retry = false

		tr, err := m.Advance(ctx)
		var verr *schema.ValidationError
		switch {
		case errors.As(err, &verr):
			if err := r.showIssues(ctx, m, verr); err != nil {
				return st.Submission, err
			}
			continue
		case err != nil:
			return m.State().Submission, err
		}

		switch tr.Kind {
		case flow.TransitionCompleted:
			if err := r.info(ctx, fmt.Sprintf("Submitted (%s)", tr.Submission.SubmissionID)); err != nil {
				return tr.Submission, err
			}
			if err := r.printReceipt(ctx, m); err != nil {
				return tr.Submission, err
			}
			return tr.Submission, nil
		case flow.TransitionSubmitted:
			r.logger.Warn("submission failed", "flow_id", m.FlowID(), "reason", tr.Submission.Reason)
			if err := r.fail(ctx, "Submission failed: "+tr.Submission.Reason); err != nil {
				return tr.Submission, err
			}
			if !tr.Submission.Retryable() {
				return tr.Submission, nil
			}
			again, err := r.driver.Confirm(ctx, ConfirmConfig{Message: "Retry submission?", Default: true})
			if err != nil {
				return tr.Submission, err
			}
			if !again {
				return tr.Submission, nil
			}
			retry = true
		}
	}
}

// presentStep prompts the visible fields of the current step and asks for
// the navigation action. It reports whether the user chose Back.
func (r *Runner) presentStep(ctx context.Context, m *flow.Machine) (bool, error) {
	cur := m.CurrentStep()
	progress, err := m.Progress()
	if err != nil {
		return false, err
	}
	header := fmt.Sprintf("[%d/%d] %s", progress.Position, progress.Total, stepTitle(cur.Title, cur.ID))
	if err := r.info(ctx, header); err != nil {
		return false, err
	}
	if cur.Description != "" {
		if err := r.info(ctx, cur.Description); err != nil {
			return false, err
		}
	}

	// Visibility can change with every answer, so the list is recomputed
	// after each prompt.
	asked := make(map[string]struct{})
	for {
		fields, err := m.VisibleFields()
		if err != nil {
			return false, err
		}
		next := -1
		for i, f := range fields {
			if _, done := asked[f.ID]; !done {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		desc := fields[next]
		asked[desc.ID] = struct{}{}
		if err := r.promptField(ctx, m, desc); err != nil {
			return false, err
		}
	}

	progress, err = m.Progress()
	if err != nil {
		return false, err
	}
	forward := actionNext
	if progress.Position == progress.Total {
		forward = actionSubmit
	}
	options := []string{forward}
	if progress.Position > 1 {
		options = append(options, actionBack)
	}
	idx, err := r.driver.Select(ctx, SelectConfig{Message: "Continue", Options: options})
	if err != nil {
		return false, err
	}
	return idx >= 0 && idx < len(options) && options[idx] == actionBack, nil
}

func (r *Runner) promptField(ctx context.Context, m *flow.Machine, desc field.Descriptor) error {
	current, hasCurrent := m.State().Answers.Get(desc.ID)
	message := desc.DisplayLabel()
	if desc.Constraints.Required {
		message += " *"
	}

	var (
		value answer.Value
		clear bool
		err   error
	)
	switch desc.Kind {
	case field.KindText:
		value, clear, err = r.promptText(ctx, desc, message, current)
	case field.KindNumber:
		value, clear, err = r.promptNumber(ctx, desc, message, current)
	case field.KindBoolean:
		def := false
		if b, ok := current.(answer.Boolean); ok {
			def = b.Value
		}
		var ok bool
		ok, err = r.driver.Confirm(ctx, ConfirmConfig{Message: message, Default: def, Help: desc.Help})
		value = answer.Boolean{Value: ok}
	case field.KindDate:
		value, clear, err = r.promptDate(ctx, desc, message, current)
	case field.KindChoice:
		value, clear, err = r.promptChoice(ctx, desc, message, current)
	case field.KindMultiChoice:
		value, err = r.promptMultiChoice(ctx, desc, message, current)
	case field.KindRating:
		value, clear, err = r.promptRating(ctx, desc, message, current)
	case field.KindFile:
		value, clear, err = r.promptFile(ctx, desc, message, current)
	default:
		return fmt.Errorf("terminal: field %q: unsupported kind %q", desc.ID, desc.Kind)
	}
	if err != nil {
		return err
	}
	if clear {
		if hasCurrent {
			return m.ClearAnswer(desc.ID)
		}
		return nil
	}
	return m.SetAnswer(desc.ID, value)
}

func (r *Runner) promptText(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, bool, error) {
	def := ""
	if t, ok := current.(answer.Text); ok {
		def = t.Value
	}
	var (
		out string
		err error
	)
	if desc.Constraints.Multiline {
		out, err = r.driver.TextArea(ctx, TextAreaConfig{Message: message, Default: def, Help: desc.Help})
	} else {
		out, err = r.driver.Input(ctx, InputConfig{Message: message, Default: def, Help: desc.Help})
	}
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, true, nil
	}
	return answer.Text{Value: out}, false, nil
}

func (r *Runner) promptNumber(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, bool, error) {
	def := ""
	if n, ok := current.(answer.Number); ok {
		def = strconv.FormatFloat(n.Value, 'f', -1, 64)
	}
	out, err := r.driver.Input(ctx, InputConfig{
		Message:   message,
		Default:   def,
		Help:      desc.Help,
		Validator: optional(parseNumber),
	})
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, true, nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return nil, false, fmt.Errorf("terminal: field %q: %w", desc.ID, err)
	}
	return answer.Number{Value: n}, false, nil
}

func (r *Runner) promptDate(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, bool, error) {
	layout := desc.DateLayout()
	def := ""
	if d, ok := current.(answer.Date); ok {
		def = d.Value.Format(layout)
	}
	out, err := r.driver.Input(ctx, InputConfig{
		Message: message + " (" + layout + ")",
		Default: def,
		Help:    desc.Help,
		Validator: optional(func(s string) error {
			_, err := time.Parse(layout, s)
			return err
		}),
	})
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, true, nil
	}
	t, err := time.Parse(layout, strings.TrimSpace(out))
	if err != nil {
		return nil, false, fmt.Errorf("terminal: field %q: %w", desc.ID, err)
	}
	return answer.Date{Value: t}, false, nil
}

func (r *Runner) promptChoice(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, bool, error) {
	values := desc.OptionValues()
	labels := make([]string, 0, len(values)+1)
	for _, v := range values {
		labels = append(labels, desc.OptionLabel(v))
	}
	if !desc.Constraints.Required {
		labels = append(labels, skipOption)
	}
	def := 0
	if c, ok := current.(answer.Choice); ok {
		def = indexOf(values, c.Value)
	}
	idx, err := r.driver.Select(ctx, SelectConfig{Message: message, Options: labels, DefaultIndex: def, Help: desc.Help})
	if err != nil {
		return nil, false, err
	}
	if idx < 0 || idx >= len(values) {
		return nil, true, nil
	}
	return answer.Choice{Value: values[idx]}, false, nil
}

func (r *Runner) promptMultiChoice(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, error) {
	values := desc.OptionValues()
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = desc.OptionLabel(v)
	}
	var defaults []int
	if mc, ok := current.(answer.MultiChoice); ok {
		defaults = indicesOf(values, mc.Values)
	}
	cfg := SelectConfig{Message: message, Options: labels, Defaults: defaults, Help: desc.Help}
	if c := desc.Constraints; c.MinItems != nil {
		cfg.MinItems = *c.MinItems
	}
	if c := desc.Constraints; c.MaxItems != nil {
		cfg.MaxItems = *c.MaxItems
	}
	picked, err := r.driver.MultiSelect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	selected := make([]string, 0, len(picked))
	for _, idx := range picked {
		if idx >= 0 && idx < len(values) {
			selected = append(selected, values[idx])
		}
	}
	return answer.MultiChoice{Values: selected}, nil
}

func (r *Runner) promptRating(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, bool, error) {
	lo, hi := schema.DefaultRatingMin, schema.DefaultRatingMax
	if desc.Constraints.Min != nil {
		lo = int(*desc.Constraints.Min)
	}
	if desc.Constraints.Max != nil {
		hi = int(*desc.Constraints.Max)
	}
	var options []string
	for n := lo; n <= hi; n++ {
		options = append(options, strconv.Itoa(n))
	}
	if !desc.Constraints.Required {
		options = append(options, skipOption)
	}
	def := 0
	if rt, ok := current.(answer.Rating); ok && rt.Value >= lo && rt.Value <= hi {
		def = rt.Value - lo
	}
	idx, err := r.driver.Select(ctx, SelectConfig{Message: message, Options: options, DefaultIndex: def, Help: desc.Help})
	if err != nil {
		return nil, false, err
	}
	if idx < 0 || idx > hi-lo {
		return nil, true, nil
	}
	return answer.Rating{Value: lo + idx}, false, nil
}

func (r *Runner) promptFile(ctx context.Context, desc field.Descriptor, message string, current answer.Value) (answer.Value, bool, error) {
	if f, ok := current.(answer.File); ok && f.Name != "" {
		keep, err := r.driver.Confirm(ctx, ConfirmConfig{Message: fmt.Sprintf("%s: keep %s?", message, f.Name), Default: true})
		if err != nil {
			return nil, false, err
		}
		if keep {
			return f, false, nil
		}
	}
	path, err := r.driver.Input(ctx, InputConfig{Message: message + " (path)", Help: desc.Help})
	if err != nil {
		return nil, false, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, true, nil
	}
	data, err := r.readFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("terminal: field %q: read %s: %w", desc.ID, path, err)
	}
	return answer.File{Name: filepath.Base(path), ContentType: contentType(path, data), Data: data}, false, nil
}

func (r *Runner) showIssues(ctx context.Context, m *flow.Machine, verr *schema.ValidationError) error {
	labels := make(map[string]string)
	for _, def := range m.Steps() {
		for _, f := range def.Fields {
			labels[f.ID] = f.DisplayLabel()
		}
	}
	for _, issue := range verr.Issues {
		name := labels[issue.Field]
		if name == "" {
			name = issue.Field
		}
		if err := r.fail(ctx, fmt.Sprintf("%s: %s", name, issue.Message)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) printReceipt(ctx context.Context, m *flow.Machine) error {
	if r.receipt == nil {
		return nil
	}
	rec, err := receipt.FromMachine(r.receiptTitle, m)
	if err != nil {
		return err
	}
	out, err := r.receipt.String(rec)
	if err != nil {
		return err
	}
	return r.driver.Info(ctx, out)
}

func (r *Runner) info(ctx context.Context, msg string) error {
	return r.driver.Info(ctx, r.theme.InfoPrefix+msg)
}

func (r *Runner) fail(ctx context.Context, msg string) error {
	return r.driver.Info(ctx, r.theme.ErrorPrefix+msg)
}

func stepTitle(title, id string) string {
	if title != "" {
		return title
	}
	return id
}

func parseNumber(s string) error {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err
}

// optional accepts blank input and otherwise defers to check.
func optional(check func(string) error) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return check(strings.TrimSpace(s))
	}
}

func contentType(path string, data []byte) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(ct); err == nil {
		return base
	}
	return ct
}
