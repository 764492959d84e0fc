// Package sink provides submit.Submitter implementations: an HTTP endpoint
// and a local SQLite outbox.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/pkg/submit"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 4 << 10
)

// ErrEmptyEndpoint reports an HTTPSubmitter built without a URL.
var ErrEmptyEndpoint = errors.New("sink: endpoint is required")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sink: endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("sink: endpoint returned %d: %s", e.StatusCode, e.Body)
}

// HTTPOption customises an HTTPSubmitter.
type HTTPOption func(*HTTPSubmitter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSubmitter) {
		if client != nil {
			s.client = client
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(s *HTTPSubmitter) {
		s.headers.Add(key, value)
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(s *HTTPSubmitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// HTTPSubmitter POSTs payloads as JSON. The submission id is read from an
// {"id": ...} response body, falling back to the last segment of the
// Location header.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
	headers  http.Header
	logger   *slog.Logger
}

var _ submit.Submitter = (*HTTPSubmitter)(nil)

// NewHTTPSubmitter returns a submitter posting to endpoint.
func NewHTTPSubmitter(endpoint string, opts ...HTTPOption) (*HTTPSubmitter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	s := &HTTPSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		headers:  make(http.Header),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Submit implements submit.Submitter.
func (s *HTTPSubmitter) Submit(ctx context.Context, payload submit.Payload) (submit.ID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("sink: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sink: build request: %w", err)
	}
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &submit.SubmissionError{FlowID: payload.FlowID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("submission rejected", "flow_id", payload.FlowID, "status", resp.StatusCode)
		return "", &submit.SubmissionError{
			FlowID: payload.FlowID,
			Err:    &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))},
		}
	}

	var decoded struct {
		ID json.RawMessage `json:"id"`
	}
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &decoded) == nil {
		if id := responseID(decoded.ID); id != "" {
			return submit.ID(id), nil
		}
	}
	if loc := strings.TrimSpace(resp.Header.Get("Location")); loc != "" {
		if id := path.Base(strings.TrimRight(loc, "/")); id != "." && id != "/" {
			return submit.ID(id), nil
		}
	}
	// An empty id lets the coordinator assign one.
	return "", nil
}

// responseID accepts a string or a number id. Numbers keep their literal
// text so large ids are not reformatted.
func responseID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return strings.TrimSpace(str)
	}
	var num json.Number
	if json.Unmarshal(raw, &num) == nil {
		return num.String()
	}
	return ""
}
