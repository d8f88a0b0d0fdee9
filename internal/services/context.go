package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	chatIDKey    contextKey = "chat_id"
	componentKey contextKey = "component"
	requestIDKey contextKey = "request_id"
)

func int64FromContext(ctx context.Context, key contextKey) (int64, bool) {
	switch val := ctx.Value(key).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID stamps the queue job identifier onto the context.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext reads the queue job identifier, if set.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, jobIDKey)
}

// WithChatID stamps the requester's chat identifier onto the context.
func WithChatID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, chatIDKey, id)
}

// ChatIDFromContext reads the chat identifier, if set.
func ChatIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, chatIDKey)
}

// WithComponent stamps the working component's name onto the context.
func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey, component)
}

// ComponentFromContext reads the component name, if set.
func ComponentFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, componentKey)
}

// WithRequestID stamps a correlation identifier onto the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext reads the correlation identifier, if set.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, requestIDKey)
}
