// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file carries request correlation and panic recovery:
//
//   - RequestID() assigns the X-Request-ID correlation id.
//   - Recovery() turns a panic into the JSON error envelope.
//   - LoggerFrom() returns the logger RedactingLogger scoped to the request.
//
// HTTP logs name the correlation id "correlation_id". The "request_id" field
// is reserved for the video request a route addresses, which is the same
// field the pipeline logs use, so one query follows a request from intake
// through polling and delivery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// correlationKey is the Gin context key holding the X-Request-ID value.
	correlationKey  = "correlationID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
	webhookPrefix   = "/webhooks/"
	// maxQueryLogLength caps the raw query bytes kept in an access log line.
	maxQueryLogLength = 2048
)

// RequestID reuses the caller's X-Request-ID or generates a UUIDv4, echoes it
// on the response, and stores it in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(correlationKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// correlationID returns the id set by RequestID, falling back to the
// response and request headers when the middleware is not installed.
func correlationID(c *gin.Context) string {
	if v, ok := c.Get(correlationKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

// routeFields adds the video request a route addresses. /videos/:id routes
// log the path id; render callbacks log the requestId query parameter.
// Webhook routes also log the webhook name ("render", "messaging_status").
// Ids that are not positive integers are left out.
func routeFields(c *gin.Context, ctx zerolog.Context) zerolog.Context {
	path := c.FullPath()
	raw := c.Param("id")
	if name := webhookName(path); name != "" {
		ctx = ctx.Str("webhook", name)
		raw = c.Query("requestId")
	}
	if id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64); err == nil && id > 0 {
		ctx = ctx.Uint64("request_id", id)
	}
	return ctx
}

// Recovery logs a recovered panic with its stack and, when nothing has been
// written yet, answers with the standard 500 envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := correlationID(c)
			lg := routeFields(c, log.With().Str("correlation_id", rid)).Logger()
			lg.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("path", c.Request.URL.Path).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// RedactingLogger is not installed. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate caps s at max bytes with an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
