package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quarantine/internal/config"
	"quarantine/internal/logging"
	"quarantine/internal/services"
)

func TestConsoleFormatPrefixesComponentAndEntry(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "queue")
	logger.Info("entry claimed",
		logging.String(logging.FieldEntryID, strings.Repeat("ab", 32)),
		logging.Int("attempts", 2),
		logging.String("reason", "needs quoting"),
	)

	line := buf.String()
	if !strings.Contains(line, " INFO queue [abababababab]: entry claimed") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "attempts=2") {
		t.Fatalf("missing attempts attr: %q", line)
	}
	if !strings.Contains(line, `reason="needs quoting"`) {
		t.Fatalf("expected quoted value: %q", line)
	}
	if strings.Contains(line, "component=") || strings.Contains(line, "entry_id=") {
		t.Fatalf("prefix fields should not repeat as attrs: %q", line)
	}
}

func TestConsoleFormatRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") {
		t.Fatalf("info record should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "WARN loud") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestJSONFormatRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error("boom", logging.Error(errors.New("disk full")))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if record["level"] != "error" {
		t.Fatalf("level = %v", record["level"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("missing ts key: %v", record)
	}
	if record["error"] != "disk full" {
		t.Fatalf("error = %v", record["error"])
	}
}

func TestAutoFormatFallsBackToJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "auto", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected JSON for non-terminal writer, got %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileOutputReceivesJSONCopy(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "nested", "quarantine.log")
	logger, err := logging.New(logging.Options{Format: "console", Writer: &buf, FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("both sinks", logging.String("k", "v"))

	if !strings.Contains(buf.String(), "both sinks") {
		t.Fatalf("terminal missing record: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "both sinks" || record["k"] != "v" {
		t.Fatalf("unexpected file record: %v", record)
	}
}

func TestNewFromConfigWritesUnderLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("started")
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, logging.LogFileName)); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithEntryID(context.Background(), "abc")
	ctx = services.WithStage(ctx, "analysis")
	ctx = services.WithWorker(ctx, "analysis-1")
	ctx = services.WithRequestID(ctx, "req-1")

	logging.WithContext(ctx, base).Info("tagged")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		logging.FieldEntryID:       "abc",
		logging.FieldStage:         "analysis",
		logging.FieldWorker:        "analysis-1",
		logging.FieldCorrelationID: "req-1",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("%s = %v, want %s", key, record[key], value)
		}
	}
}

func TestWithContextEmptyReturnsSameLogger(t *testing.T) {
	base := logging.NewNop()
	if got := logging.WithContext(context.Background(), base); got != base {
		t.Fatal("expected base logger when context carries no fields")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "slow", "settle_slow", logging.String(logging.FieldImpact, "ingest delayed"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[logging.FieldEventType] != "settle_slow" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
	if record[logging.FieldImpact] != "ingest delayed" {
		t.Fatalf("impact overridden: %v", record[logging.FieldImpact])
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
}
