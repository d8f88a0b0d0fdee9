package logging

import (
	"context"
	"log/slog"

	"kontext/internal/services"
)

// Attribute keys shared across the daemon. Log readers and the doctor match
// on these exact strings, so every writer goes through the constants.
const (
	// FieldComponent names the subsystem that emitted a record.
	FieldComponent = "component"
	// FieldJobID carries the queue job identifier.
	FieldJobID = "job_id"
	// FieldChatID carries the requester's chat identifier.
	FieldChatID = "chat_id"
	// FieldPromptID carries the compute server's prompt identifier.
	FieldPromptID = "prompt_id"
	// FieldCorrelationID ties together records from one request.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a remediation step to the operator.
	FieldErrorHint = "error_hint"
	// FieldAlert flags records that should stand out in review.
	FieldAlert = "alert"
)

// ContextFields collects the job, chat, component, and correlation attributes
// that ctx carries, skipping any that are unset.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if id, ok := services.ChatIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldChatID, id))
	}
	if component, ok := services.ComponentFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldComponent, component))
	}
	if requestID, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, requestID))
	}
	return fields
}

// WithContext returns logger extended with every attribute ContextFields finds
// in ctx. A nil logger is replaced with a no-op one.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(attrsToArgs(fields)...)
	}
	return logger
}
