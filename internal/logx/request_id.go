package logx

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ctxKeyRequestID struct{}

// IsUUIDv4 reports whether value parses as a version-4 UUID.
func IsUUIDv4(value string) bool {
	id, err := uuid.Parse(value)
	return err == nil && id.Version() == 4
}

// NormalizeRequestID returns value when it is a valid v4 UUID and a freshly
// generated one otherwise. Callers never have to trust inbound header values.
func NormalizeRequestID(value string) string {
	if IsUUIDv4(value) {
		return value
	}
	return uuid.NewString()
}

// WithRequestID stores the request id in ctx for downstream loggers.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID{}, requestID)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// RequestIDFromGin reads the request id set by RequestIDMiddleware, falling
// back to the request context.
func RequestIDFromGin(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if id := c.GetString(ginKeyRequestID); id != "" {
		return id
	}
	return RequestIDFromContext(c.Request.Context())
}

// LoggerWithRequestID returns the default logger annotated with the
// request id carried in ctx, when there is one.
func LoggerWithRequestID(ctx context.Context) *slog.Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return slog.Default()
	}
	return slog.Default().With("request_id", id)
}
