package submit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/transform"
)

// Request describes one submission attempt.
type Request struct {
	FlowID string
	// Answers is snapshotted when Submit starts; later writes do not affect
	// the attempt.
	Answers answer.Set
	// Fields lists the applicable fields. Only their answers are submitted.
	Fields []field.Descriptor
	// Schema is the union schema of the applicable fields.
	Schema schema.Schema
	// OnStatus, when set, observes every status change of this attempt.
	OnStatus func(State)
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithTransformers sets the transformer registry.
func WithTransformers(reg *transform.Registry) Option {
	return func(c *Coordinator) {
		if reg != nil {
			c.transformers = reg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetadata adds static metadata to every payload.
func WithMetadata(meta map[string]string) Option {
	return func(c *Coordinator) {
		for k, v := range meta {
			c.metadata[k] = v
		}
	}
}

// WithConcurrency bounds parallel transforms. Values below one mean no limit.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		c.concurrency = n
	}
}

// Coordinator owns the submission lifecycle of one flow.
type Coordinator struct {
	mu    sync.Mutex
	state State

	submitter    Submitter
	transformers *transform.Registry
	logger       *slog.Logger
	now          func() time.Time
	metadata     map[string]string
	concurrency  int
}

// NewCoordinator builds a coordinator that hands payloads to submitter.
func NewCoordinator(submitter Submitter, opts ...Option) *Coordinator {
	c := &Coordinator{
		state:        State{Status: StatusIdle},
		submitter:    submitter,
		transformers: transform.NewRegistry(),
		logger:       slog.Default(),
		now:          time.Now,
		metadata:     map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State returns the current lifecycle snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transformers exposes the registry so callers can fail fast on wiring.
func (c *Coordinator) Transformers() *transform.Registry { return c.transformers }

// Submit runs one attempt: validate the snapshot, transform every applicable
// answer and call the submitter once. Failures are recorded in State and
// returned. A succeeded flow returns ErrAlreadySubmitted without any external
// call; a running attempt makes concurrent calls return
// ErrSubmissionInFlight.
func (c *Coordinator) Submit(ctx context.Context, req Request) (ID, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	switch {
	case c.state.Status == StatusSucceeded:
		c.mu.Unlock()
		return "", ErrAlreadySubmitted
	case c.state.InFlight():
		c.mu.Unlock()
		return "", ErrSubmissionInFlight
	}
	if err := checkTransition(c.state.Status, StatusValidating); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.state = State{Status: StatusValidating, Attempts: c.state.Attempts + 1}
	attempt := c.state.Attempts
	snapshot := c.state
	c.mu.Unlock()
	notify(req.OnStatus, snapshot)

	logger := c.logger.With("flow_id", req.FlowID, "attempt", attempt)
	answers := req.Answers.Only(field.IDs(req.Fields))

	if err := req.Schema.Validate(answers); err != nil {
		return "", c.fail(req, logger, err)
	}
	if err := c.transformers.Check(req.Fields); err != nil {
		return "", c.fail(req, logger, err)
	}
	if c.submitter == nil {
		return "", c.fail(req, logger, &SubmissionError{FlowID: req.FlowID, Err: errors.New("no submitter configured")})
	}

	c.advance(req, State{Status: StatusSubmitting, Attempts: attempt})

	transformed, err := c.transformAll(ctx, req.FlowID, req.Fields, answers)
	if err != nil {
		return "", c.fail(req, logger, err)
	}

	payload := Payload{
		FlowID:      req.FlowID,
		Answers:     transformed,
		Metadata:    c.payloadMetadata(req.FlowID, attempt),
		Attempt:     attempt,
		SubmittedAt: c.now().UTC(),
	}
	id, err := c.submitter.Submit(ctx, payload)
	if err != nil {
		var subErr *SubmissionError
		if !errors.As(err, &subErr) {
			err = &SubmissionError{FlowID: req.FlowID, Err: err}
		}
		return "", c.fail(req, logger, err)
	}
	if id == "" {
		id = ID(uuid.NewString())
	}

	c.advance(req, State{Status: StatusSucceeded, SubmissionID: id, Attempts: attempt})
	logger.Info("submission succeeded", "submission_id", id, "answers", len(transformed))
	return id, nil
}

func (c *Coordinator) transformAll(ctx context.Context, flowID string, fields []field.Descriptor, answers answer.Set) (map[string]transform.Answer, error) {
	out := make(map[string]transform.Answer, len(answers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for _, desc := range fields {
		value, ok := answers.Get(desc.ID)
		if !ok || value == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := c.transformers.Transform(gctx, flowID, desc, value)
			if err != nil {
				return err
			}
			mu.Lock()
			out[desc.ID] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) payloadMetadata(flowID string, attempt int) map[string]string {
	meta := make(map[string]string, len(c.metadata)+2)
	for k, v := range c.metadata {
		meta[k] = v
	}
	meta["flow_id"] = flowID
	meta["attempt"] = strconv.Itoa(attempt)
	return meta
}

func (c *Coordinator) advance(req Request, next State) {
	c.mu.Lock()
	if err := checkTransition(c.state.Status, next.Status); err != nil {
		c.mu.Unlock()
		c.logger.Error("submission state rejected", "flow_id", req.FlowID, "error", err)
		return
	}
	c.state = next
	c.mu.Unlock()
	notify(req.OnStatus, next)
}

func (c *Coordinator) fail(req Request, logger *slog.Logger, err error) error {
	c.mu.Lock()
	next := State{
		Status:   StatusFailed,
		Reason:   err.Error(),
		Failure:  Classify(err),
		Attempts: c.state.Attempts,
	}
	c.state = next
	c.mu.Unlock()

	logger.Warn("submission failed", "failure", next.Failure, "error", err)
	notify(req.OnStatus, next)
	return err
}

func notify(fn func(State), state State) {
	if fn != nil {
		fn(state)
	}
}
