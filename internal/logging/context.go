package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderTraceID carries the request trace id in and out
const HeaderTraceID = "X-Trace-ID"

const contextKeyTraceID = "trace_id"

// RequestObserver receives one call per finished request
type RequestObserver func(route, method string, status int, elapsed time.Duration)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the request logger, falling back to the default
func FromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	l := Default()
	return &l
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// LicenseContext creates a logger context for license operations
func LicenseContext(ctx context.Context, operation, licenseKey, hwid string) *zerolog.Logger {
	l := FromContext(ctx).With().
		Str("operation", operation).
		Str("license_key", licenseKey).
		Str("hwid", hwid).
		Logger()
	return &l
}

// TraceID returns the trace id assigned by GinMiddleware
func TraceID(c *gin.Context) string {
	return c.GetString(contextKeyTraceID)
}

// GinMiddleware assigns a trace id, stores a request logger on the request
// context and logs completion. observe may be nil.
func GinMiddleware(base zerolog.Logger, observe RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = GenerateTraceID()
		}
		c.Set(contextKeyTraceID, traceID)
		c.Header(HeaderTraceID, traceID)

		l := base.With().
			Str("component", "http").
			Str("trace_id", traceID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), l))

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		if observe != nil {
			observe(c.FullPath(), c.Request.Method, status, elapsed)
		}

		var evt *zerolog.Event
		switch {
		case status >= 500:
			evt = l.Error()
		case status >= 400:
			evt = l.Warn()
		default:
			evt = l.Info()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Int("status_code", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Msg("request completed")
	}
}
