package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	backendKey   ctxKey = "backend"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// WithBackend tags the context with the gateway backend handling the request.
func WithBackend(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, backendKey, name)
}

func BackendFrom(ctx context.Context) string {
	if v := ctx.Value(backendKey); v != nil {
		return v.(string)
	}
	return ""
}

// FromCtx returns logger with request_id and backend automatically added
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if backend := BackendFrom(ctx); backend != "" {
		l = l.With(zap.String("backend", backend))
	}
	return l
}
