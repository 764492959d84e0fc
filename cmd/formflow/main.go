package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/internal/config"
	"github.com/goliatone/go-formflow/internal/logging"
	"github.com/goliatone/go-formflow/pkg/definition"
	"github.com/goliatone/go-formflow/pkg/openapi"
	"github.com/goliatone/go-formflow/pkg/receipt"
	"github.com/goliatone/go-formflow/pkg/sink"
	"github.com/goliatone/go-formflow/pkg/source"
	"github.com/goliatone/go-formflow/pkg/storage"
	"github.com/goliatone/go-formflow/pkg/submit"
	"github.com/goliatone/go-formflow/pkg/terminal"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	flag.StringVar(&cfg.DefinitionPath, "definitions", cfg.DefinitionPath, "directory of flow definition files")
	flag.StringVar(&cfg.FlowID, "flow", cfg.FlowID, "flow id within the definition directory")
	flag.StringVar(&cfg.OpenAPIPath, "openapi", cfg.OpenAPIPath, "OpenAPI document path or URL")
	flag.StringVar(&cfg.OperationID, "operation", cfg.OperationID, "operation id whose request body becomes the flow")
	flag.StringVar(&cfg.SubmitURL, "submit-url", cfg.SubmitURL, "endpoint receiving the submission as JSON")
	flag.StringVar(&cfg.OutboxPath, "outbox", cfg.OutboxPath, "SQLite file storing submissions locally")
	flag.DurationVar(&cfg.SubmitTimeout, "timeout", cfg.SubmitTimeout, "HTTP submit timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "answer transform concurrency (0 = unbounded)")
	flag.StringVar(&cfg.BucketURL, "bucket", cfg.BucketURL, "blob bucket URL for file uploads (mem://, file://, s3://, gs://, azblob://)")
	flag.StringVar(&cfg.UploadPrefix, "upload-prefix", cfg.UploadPrefix, "key prefix for uploaded files")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	receiptDir := flag.String("receipt-dir", "", "directory holding a receipt.tpl overriding the built-in summary")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	level, _ := cfg.Level()
	logger := logging.Setup(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *receiptDir, logger); err != nil {
		if errors.Is(err, terminal.ErrAborted) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "aborted")
			os.Exit(130)
		}
		logger.Error("formflow failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, receiptDir string, logger *slog.Logger) error {
	provider, title, err := openProvider(ctx, cfg)
	if err != nil {
		return err
	}
	summary, err := receipt.NewRenderer(receipt.WithTemplateDir(receiptDir))
	if err != nil {
		return err
	}

	submitter, closeSink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	opts := []formflow.Option{
		formflow.WithProvider(provider),
		formflow.WithSubmitter(submitter),
		formflow.WithLogger(logger),
		formflow.WithSubmitOptions(submit.WithConcurrency(cfg.Concurrency)),
	}
	if cfg.BucketURL != "" {
		store, err := storage.OpenBlobStore(ctx, cfg.BucketURL, cfg.UploadPrefix)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, formflow.WithUploader(store))
	}

	m, err := formflow.New(opts...).Start(ctx)
	if err != nil {
		return err
	}

	// Prompts go to stderr so stdout carries only the submission id.
	driver := terminal.NewSurveyDriver(os.Stderr, terminal.WithStdio(os.Stdin, os.Stderr, os.Stderr))
	runner := terminal.New(
		terminal.WithPromptDriver(driver),
		terminal.WithLogger(logger),
		terminal.WithReceipt(summary, title),
	)
	state, err := runner.Run(ctx, m)
	if err != nil {
		return err
	}
	if state.Status == submit.StatusSucceeded && state.SubmissionID != "" {
		fmt.Println(state.SubmissionID)
	}
	return nil
}

// openProvider returns the configured field source and its title.
func openProvider(ctx context.Context, cfg *config.Config) (source.Provider, string, error) {
	if cfg.DefinitionPath != "" {
		store, err := definition.LoadFS(os.DirFS(cfg.DefinitionPath))
		if err != nil {
			return nil, "", err
		}
		flow, ok := store.Flow(cfg.FlowID)
		if !ok {
			return nil, "", fmt.Errorf("flow %q not found in %s (available: %s)", cfg.FlowID, cfg.DefinitionPath, strings.Join(store.IDs(), ", "))
		}
		return flow, flow.Title, nil
	}

	data, err := readDocument(ctx, cfg.OpenAPIPath)
	if err != nil {
		return nil, "", err
	}
	p, err := openapi.NewProvider(data, cfg.OperationID)
	if err != nil {
		return nil, "", err
	}
	return p, p.Title(), nil
}

func readDocument(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return os.ReadFile(location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", location, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func openSink(cfg *config.Config, logger *slog.Logger) (submit.Submitter, func(), error) {
	if cfg.SubmitURL != "" {
		s, err := sink.NewHTTPSubmitter(cfg.SubmitURL,
			sink.WithHTTPClient(&http.Client{Timeout: cfg.SubmitTimeout}),
			sink.WithHTTPLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	outbox, err := sink.OpenSQLiteOutbox(cfg.OutboxPath, sink.WithOutboxLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return outbox, func() {
		if err := outbox.Close(); err != nil {
			logger.Warn("close outbox", "error", err)
		}
	}, nil
}
