package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings of the formflow command.
type Config struct {
	// Field source
	DefinitionPath string
	FlowID         string
	OpenAPIPath    string
	OperationID    string

	// Submission
	SubmitURL     string
	OutboxPath    string
	SubmitTimeout time.Duration
	Concurrency   int

	// Uploads
	BucketURL    string
	UploadPrefix string

	LogLevel string
}

const (
	DefaultSubmitTimeout = 30 * time.Second
	DefaultUploadPrefix  = "uploads"
	DefaultLogLevel      = "info"
	MaxConcurrency       = 64

	envPrefix = "FORMFLOW_"
)

var (
	ErrNoSource           = errors.New("a definition path or an OpenAPI document is required")
	ErrAmbiguousSource    = errors.New("definition path and OpenAPI document are mutually exclusive")
	ErrMissingFlowID      = errors.New("flow id is required with a definition path")
	ErrMissingOperationID = errors.New("operation id is required with an OpenAPI document")
	ErrNoSink             = errors.New("a submit URL or an outbox path is required")
	ErrAmbiguousSink      = errors.New("submit URL and outbox path are mutually exclusive")
	ErrInvalidTimeout     = errors.New("submit timeout must be positive")
	ErrInvalidConcurrency = errors.New("concurrency out of range")
	ErrInvalidLogLevel    = errors.New("invalid log level")
)

// NewDefaultConfig returns a configuration with defaults for everything but
// the source and sink.
func NewDefaultConfig() *Config {
	return &Config{
		SubmitTimeout: DefaultSubmitTimeout,
		UploadPrefix:  DefaultUploadPrefix,
		LogLevel:      DefaultLogLevel,
	}
}

// LoadFromEnv overlays FORMFLOW_* environment variables. Returns an error if
// a value cannot be parsed.
func (c *Config) LoadFromEnv() error {
	loadEnvString("DEFINITION_PATH", &c.DefinitionPath)
	loadEnvString("FLOW_ID", &c.FlowID)
	loadEnvString("OPENAPI_PATH", &c.OpenAPIPath)
	loadEnvString("OPERATION_ID", &c.OperationID)
	loadEnvString("SUBMIT_URL", &c.SubmitURL)
	loadEnvString("OUTBOX_PATH", &c.OutboxPath)
	loadEnvString("BUCKET_URL", &c.BucketURL)
	loadEnvString("UPLOAD_PREFIX", &c.UploadPrefix)
	loadEnvString("LOG_LEVEL", &c.LogLevel)

	if s := os.Getenv(envPrefix + "SUBMIT_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %sSUBMIT_TIMEOUT: %q", envPrefix, s)
		}
		c.SubmitTimeout = d
	}
	if s := os.Getenv(envPrefix + "CONCURRENCY"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid %sCONCURRENCY: %q", envPrefix, s)
		}
		c.Concurrency = n
	}
	return nil
}

// Validate checks that the configuration can run a flow.
func (c *Config) Validate() error {
	switch {
	case c.DefinitionPath == "" && c.OpenAPIPath == "":
		return ErrNoSource
	case c.DefinitionPath != "" && c.OpenAPIPath != "":
		return ErrAmbiguousSource
	case c.DefinitionPath != "" && c.FlowID == "":
		return ErrMissingFlowID
	case c.OpenAPIPath != "" && c.OperationID == "":
		return ErrMissingOperationID
	}

	switch {
	case c.SubmitURL == "" && c.OutboxPath == "":
		return ErrNoSink
	case c.SubmitURL != "" && c.OutboxPath != "":
		return ErrAmbiguousSink
	}

	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.SubmitTimeout)
	}
	if c.Concurrency < 0 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, c.Concurrency)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return level, nil
}

func loadEnvString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		*dst = v
	}
}
