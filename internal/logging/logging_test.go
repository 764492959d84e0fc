package logging_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goliatone/go-formflow/internal/logging"
)

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("submission failed", "flow_id", "f-1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "submission failed") || !strings.Contains(out, "flow_id=f-1") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("non-terminal writers should not receive colour codes: %q", out)
	}
}
