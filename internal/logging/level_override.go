package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler drops records below a per-logger floor before delegating
// to the wrapped handler, which stays configured with the most verbose
// level any component needs.
type minLevelHandler struct {
	next  slog.Handler
	floor slog.Level
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.floor && h.next.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.floor {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{next: h.next.WithAttrs(attrs), floor: h.floor}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{next: h.next.WithGroup(name), floor: h.floor}
}

// CloneWithLevel re-floors the same underlying handler, so stacked
// overrides replace each other instead of nesting.
func (h *minLevelHandler) CloneWithLevel(level slog.Level) slog.Handler {
	return &minLevelHandler{next: h.next, floor: level}
}

// levelCloner is satisfied by handlers that can swap their level floor
// without re-wrapping.
type levelCloner interface {
	CloneWithLevel(slog.Level) slog.Handler
}

// WithLevelOverride returns a logger that enforces the provided minimum
// level while keeping the logger's attributes and output wiring.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if cloner, ok := logger.Handler().(levelCloner); ok {
		return slog.New(cloner.CloneWithLevel(level))
	}
	return slog.New(&minLevelHandler{next: logger.Handler(), floor: level})
}
