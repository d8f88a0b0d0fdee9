package logging_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kontext/internal/config"
	"kontext/internal/logging"
	"kontext/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log %s: %v", path, err)
	}
	return string(content)
}

func TestNewFromConfigWritesDaemonLog(t *testing.T) {
	cfg := config.Config{
		Paths:   config.Paths{LogDir: t.TempDir()},
		Logging: config.Logging{Format: "console", Level: "info"},
	}

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("daemon boot marker")

	content := readLog(t, filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFileName))
	if !strings.Contains(content, "daemon boot marker") {
		t.Fatalf("expected daemon log to contain message, got %q", content)
	}
}

func TestNewFromConfigNilFallsBack(t *testing.T) {
	logger, err := logging.NewFromConfig(nil)
	if err != nil {
		t.Fatalf("NewFromConfig(nil): %v", err)
	}
	if logger == nil {
		t.Fatal("NewFromConfig(nil) returned nil logger")
	}
}

func TestConsoleHandlerHoistsComponent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logging.NewComponentLogger(logger, "worker").Info("job started", logging.Int64("job_id", 7))

	content := readLog(t, logPath)
	if !strings.Contains(content, "INFO worker: job started") {
		t.Fatalf("expected component-prefixed message, got %q", content)
	}
	if !strings.Contains(content, "job_id=7") {
		t.Fatalf("expected key=value attribute, got %q", content)
	}
	if strings.Contains(content, "component=") {
		t.Fatalf("component should be hoisted out of the attribute list, got %q", content)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "quotes.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("submitted", logging.String("prompt", "neon city at night"))

	content := readLog(t, logPath)
	if !strings.Contains(content, `prompt="neon city at night"`) {
		t.Fatalf("expected quoted value, got %q", content)
	}
}

func TestConsoleOmitsCallerAtInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("plain line")

	if content := readLog(t, logPath); strings.Contains(content, ".go:") {
		t.Fatalf("info level should not carry caller info, got %q", content)
	}
}

func TestConsoleShowsCallerAtDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("traced line")

	if content := readLog(t, logPath); !strings.Contains(content, ".go:") {
		t.Fatalf("debug level should carry caller info, got %q", content)
	}
}

func TestJSONFormatRenamesCoreKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("json message", logging.String("k", "v"))

	content := readLog(t, logPath)
	for _, want := range []string{`"ts":`, `"level":"info"`, `"msg":"json message"`, `"k":"v"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected JSON log to contain %s, got %q", want, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "chatty",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("suppressed")
	logger.Info("visible")

	content := readLog(t, logPath)
	if strings.Contains(content, "suppressed") {
		t.Fatalf("debug message should be suppressed at info level, got %q", content)
	}
	if !strings.Contains(content, "visible") {
		t.Fatalf("info message should be visible, got %q", content)
	}
}

func TestWithContextStampsIdentifiers(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "context.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	ctx = services.WithJobID(ctx, 123)
	ctx = services.WithChatID(ctx, 4567)
	ctx = services.WithRequestID(ctx, "corr-42")

	logging.WithContext(ctx, logger).Info("stamped entry")

	content := readLog(t, logPath)
	for _, want := range []string{"job_id=123", "chat_id=4567", "correlation_id=corr-42"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %s in log line, got %q", want, content)
		}
	}
}

func TestWithLevelOverrideRaisesMinimum(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "override.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	quiet := logging.WithLevelOverride(logger, slog.LevelWarn)
	quiet.Info("hidden info")
	quiet.Warn("visible warning")

	content := readLog(t, logPath)
	if strings.Contains(content, "hidden info") {
		t.Fatalf("info message should be filtered by override, got %q", content)
	}
	if !strings.Contains(content, "visible warning") {
		t.Fatalf("warn message should pass override, got %q", content)
	}
}

func TestComponentLoggerHonoursOverride(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "component.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := config.Config{
		Logging: config.Logging{
			ComponentOverrides: map[string]string{"comfy-server": "warn"},
		},
	}

	quiet := logging.ComponentLogger(&cfg, logger, "comfy-server")
	quiet.Info("server chatter")
	quiet.Warn("server warning")

	loud := logging.ComponentLogger(&cfg, logger, "worker")
	loud.Info("worker info")

	content := readLog(t, logPath)
	if strings.Contains(content, "server chatter") {
		t.Fatalf("override should filter info for comfy-server, got %q", content)
	}
	if !strings.Contains(content, "server warning") {
		t.Fatalf("warn should pass the override, got %q", content)
	}
	if !strings.Contains(content, "worker info") {
		t.Fatalf("components without overrides keep the base level, got %q", content)
	}
}

func TestParseComponentLevel(t *testing.T) {
	tests := []struct {
		input  string
		want   slog.Level
		wantOK bool
	}{
		{"debug", slog.LevelDebug, true},
		{" WARN ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"info", slog.LevelInfo, true},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := logging.ParseComponentLevel(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseComponentLevel(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}
