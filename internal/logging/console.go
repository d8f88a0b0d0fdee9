package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one human-readable line per record: timestamp,
// level, optional component prefix, message, caller when source logging is
// on, then the remaining attributes as key=value pairs with group keys
// flattened dot-separated.
type consoleHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  *slog.LevelVar
	caller bool

	attrs  []slog.Attr
	groups []string
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, caller bool) slog.Handler {
	return &consoleHandler{out: w, level: lvl, caller: caller}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	pairs := make([]attrPair, 0, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		pairs = collectAttr(pairs, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		pairs = collectAttr(pairs, h.groups, attr)
		return true
	})
	component, pairs := hoistComponent(pairs)

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf bytes.Buffer
	buf.Grow(128 + len(pairs)*24)
	buf.WriteString(ts.UTC().Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(levelTag(record.Level))
	buf.WriteByte(' ')
	if component != "" {
		buf.WriteString(component)
		buf.WriteString(": ")
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}
	buf.WriteString(message)
	if h.caller {
		frames := runtime.CallersFrames([]uintptr{record.PC})
		frame, _ := frames.Next()
		if frame.Function != "" || frame.File != "" {
			fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(frame.File), frame.Line)
		}
	}
	for _, pair := range pairs {
		if pair.key == "" {
			continue
		}
		buf.WriteByte(' ')
		buf.WriteString(pair.key)
		buf.WriteByte('=')
		buf.WriteString(renderValue(pair.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.fork()
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	next := h.fork()
	next.groups = append(next.groups, name)
	return next
}

func (h *consoleHandler) fork() *consoleHandler {
	return &consoleHandler{
		out:    h.out,
		level:  h.level,
		caller: h.caller,
		attrs:  slices.Clone(h.attrs),
		groups: slices.Clone(h.groups),
	}
}

type attrPair struct {
	key   string
	value slog.Value
}

// collectAttr appends attr to pairs, recursing into groups so nested keys
// come out as prefix.key.
func collectAttr(pairs []attrPair, prefix []string, attr slog.Attr) []attrPair {
	if attr.Equal(slog.Attr{}) {
		return pairs
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		scope := prefix
		if attr.Key != "" {
			scope = append(slices.Clone(prefix), attr.Key)
		}
		for _, nested := range attr.Value.Group() {
			pairs = collectAttr(pairs, scope, nested)
		}
		return pairs
	}
	return append(pairs, attrPair{key: scopedKey(prefix, attr.Key), value: attr.Value})
}

func scopedKey(prefix []string, key string) string {
	if len(prefix) == 0 {
		return key
	}
	joined := strings.Join(prefix, ".")
	if key == "" {
		return joined
	}
	return joined + "." + key
}

// hoistComponent pulls the first component attribute out of the pair list so
// the renderer can prefix the message with it instead.
func hoistComponent(pairs []attrPair) (string, []attrPair) {
	component := ""
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair.key == FieldComponent {
			if component == "" {
				component = plainValue(pair.value)
			}
			continue
		}
		kept = append(kept, pair)
	}
	return component, kept
}

func renderValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	default:
		return quoteIfNeeded(plainValue(v))
	}
}

// plainValue renders v without quoting, for use in the line prefix.
func plainValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// quoteIfNeeded wraps values containing spaces, equals signs, quotes, or
// control characters so a line stays splittable on whitespace.
func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
