package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kontext/internal/config"
)

// DaemonLogFileName is the file inside the log directory that receives daemon output.
const DaemonLogFileName = "kontext.log"

// Options selects the level, format, and sinks for a new logger.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New builds the root slog logger described by opts. Zero values fall back
// to an info-level console logger on stdout and stderr.
func New(opts Options) (*slog.Logger, error) {
	level, _ := ParseComponentLevel(opts.Level)
	lvl := new(slog.LevelVar)
	lvl.Set(level)

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	errPaths := opts.ErrorOutputPaths
	if len(errPaths) == 0 {
		errPaths = []string{"stderr"}
	}
	sink, err := combineSinks(append(append([]string{}, paths...), errPaths...))
	if err != nil {
		return nil, err
	}

	withSource := opts.Development || level <= slog.LevelDebug

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		return slog.New(newJSONHandler(sink, lvl, withSource)), nil
	case "console", "":
		return slog.New(newConsoleHandler(sink, lvl, withSource)), nil
	default:
		return nil, fmt.Errorf("log format %q is not supported", opts.Format)
	}
}

// NewFromConfig creates a logger using application config defaults. Output
// goes to stdout plus the daemon log file when a log directory is configured.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}

	outputs := []string{"stdout"}
	errOutputs := []string{"stderr"}
	if dir := cfg.Paths.LogDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logPath := filepath.Join(dir, DaemonLogFileName)
		outputs = append(outputs, logPath)
		errOutputs = append(errOutputs, logPath)
	}

	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
	})
}

// ParseComponentLevel resolves a per-component override value to a slog level.
// The boolean reports whether the value named a recognized level.
func ParseComponentLevel(level string) (slog.Level, bool) {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ComponentLogger returns a logger scoped to the named component, honouring
// any per-component level override from the configuration. Unrecognized
// override values leave the logger's level untouched.
func ComponentLogger(cfg *config.Config, logger *slog.Logger, component string) *slog.Logger {
	scoped := NewComponentLogger(logger, component)
	if cfg == nil {
		return scoped
	}
	override, ok := cfg.Logging.ComponentOverride(component)
	if !ok {
		return scoped
	}
	level, ok := ParseComponentLevel(override)
	if !ok {
		return scoped
	}
	return WithLevelOverride(scoped, level)
}

// combineSinks opens each distinct path once and fans records out to all of
// them. Blank entries are skipped; duplicates keep their first position.
func combineSinks(paths []string) (io.Writer, error) {
	seen := make(map[string]struct{}, len(paths))
	var writers []io.Writer
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		w, err := openSink(path)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func openSink(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, caller bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   caller,
		ReplaceAttr: rewriteJSONAttr,
	})
}

// rewriteJSONAttr renames the built-in keys to ts/level/msg and compacts the
// source attribute to file:line.
func rewriteJSONAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
		}
	case slog.LevelKey:
		attr.Key = "level"
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "msg"
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(filepath.Base(src.File) + ":" + strconv.Itoa(src.Line))
		}
	}
	return attr
}
