package config_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/goliatone/go-formflow/internal/config"
)

func validConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.DefinitionPath = "flows"
	cfg.FlowID = "booking"
	cfg.SubmitURL = "http://localhost:8080/submissions"
	return cfg
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name string
		mod  func(*config.Config)
		want error
	}{
		{"no source", func(c *config.Config) { c.DefinitionPath = "" }, config.ErrNoSource},
		{"two sources", func(c *config.Config) { c.OpenAPIPath = "api.yaml" }, config.ErrAmbiguousSource},
		{"missing flow", func(c *config.Config) { c.FlowID = "" }, config.ErrMissingFlowID},
		{"missing operation", func(c *config.Config) {
			c.DefinitionPath, c.OpenAPIPath = "", "api.yaml"
		}, config.ErrMissingOperationID},
		{"no sink", func(c *config.Config) { c.SubmitURL = "" }, config.ErrNoSink},
		{"two sinks", func(c *config.Config) { c.OutboxPath = "out.db" }, config.ErrAmbiguousSink},
		{"zero timeout", func(c *config.Config) { c.SubmitTimeout = 0 }, config.ErrInvalidTimeout},
		{"negative concurrency", func(c *config.Config) { c.Concurrency = -1 }, config.ErrInvalidConcurrency},
		{"bad level", func(c *config.Config) { c.LogLevel = "loud" }, config.ErrInvalidLogLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mod(cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FORMFLOW_OPENAPI_PATH", "api.yaml")
	t.Setenv("FORMFLOW_OPERATION_ID", "createBooking")
	t.Setenv("FORMFLOW_OUTBOX_PATH", "data/outbox.db")
	t.Setenv("FORMFLOW_SUBMIT_TIMEOUT", "5s")
	t.Setenv("FORMFLOW_CONCURRENCY", "4")
	t.Setenv("FORMFLOW_LOG_LEVEL", "debug")

	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.SubmitTimeout != 5*time.Second || cfg.Concurrency != 4 || cfg.UploadPrefix != config.DefaultUploadPrefix {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if level, _ := cfg.Level(); level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", level)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("FORMFLOW_SUBMIT_TIMEOUT", "soon")
	if err := config.NewDefaultConfig().LoadFromEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}
