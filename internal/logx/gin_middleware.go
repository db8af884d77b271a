package logx

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	requestIDHeader = "X-Request-ID"
	ginKeyRequestID = "request_id"
)

// RequestIDMiddleware assigns each request a v4 UUID request id. A valid
// inbound X-Request-ID is preserved; anything else is replaced. The id is
// echoed back in the response header and stored on the gin context and the
// request context.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := NormalizeRequestID(c.GetHeader(requestIDHeader))
		c.Set(ginKeyRequestID, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLogMiddleware emits one structured line per completed request.
// 5xx log as errors and 4xx as warnings.
func AccessLogMiddleware(component string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		slog.Log(
			c.Request.Context(),
			level,
			"http request completed",
			"component", component,
			"request_id", RequestIDFromGin(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"query", c.Request.URL.RawQuery,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"errors", c.Errors.String(),
		)
	}
}
