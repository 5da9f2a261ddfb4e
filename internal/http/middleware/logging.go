// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file carries the correlation and logging plumbing the ledger API runs
// on. Payment gateways redeliver events, operators replay applications, and
// the only way to stitch those attempts together across logs is a stable
// correlation id per request:
//
//   - RequestID() reuses an incoming X-Request-ID or mints a UUIDv4, stamps
//     it on the response, and stashes it in the Gin context.
//   - Logger() writes one structured access line per request and attaches a
//     request-scoped zerolog.Logger (context key "logger") that handlers and
//     services enrich with domain fields (order_id, coupon_code).
//   - Recovery() turns panics into the standard JSON 500 envelope without
//     losing the correlation id, and logs the stack.
//   - LoggerFrom() fetches the request-scoped logger; callers never need a
//     nil check.
//
// The router installs RedactingLogger as the access logger because webhook
// traffic carries customer emails; Logger() is the unredacted variant for
// surfaces that never see PII. Both expect RequestID() to run first. Query
// strings are capped before logging so replay tooling cannot bloat the log
// stream.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key holding the correlation id.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation id to and from clients.
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps the logged query string, in bytes.
	maxQueryLogLength = 2048
)

// RequestID attaches a correlation id to every request. An incoming
// X-Request-ID (gateways send their delivery id here) is reused so a
// redelivered event lines up with its first attempt in the logs; otherwise a
// fresh UUIDv4 is minted. The id is written to the response header and the
// Gin context. Install this before any logging middleware.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log line per request and plants the
// request-scoped logger in the context.
//
// Logged per request: method, route path (raw path when no route matched),
// calling integration (X-Client-ID), remote IP, user agent, referer, capped
// query string, correlation id, request/response sizes, status, and latency.
// The severity follows the outcome: error for 5xx or when the Gin error list
// is non-empty, warn for 4xx, info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("client_id", c.GetHeader(clientIDHeader)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength). // -1 when unknown
			Logger()

		c.Set("logger", &l)

		c.Next()

		out := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			out.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			out.Error().Msg("request")
		case status >= 400:
			out.Warn().Msg("request")
		default:
			out.Info().Msg("request")
		}
	}
}

// Recovery converts a panic into the standard JSON 500 envelope and logs the
// stack with the correlation id. When the handler already wrote part of a
// response the body cannot be replaced, so the request is only aborted with
// status 500. Install after Logger so the panic line carries request fields.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger planted by Logger.
// Without one (tests, background work) it falls back to the global logger,
// so the result is always usable.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString reads a context value as a string, empty for anything else.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis when cut. A max <= 0
// disables the cap. Byte-level truncation is fine for log output.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
