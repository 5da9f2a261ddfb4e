// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, the hardening layer for the coupon and
// webhook API. The service is a JSON API behind a reverse proxy: it serves no
// HTML, but its admin responses can carry customer emails and payment
// references, so cache suppression and strict transport are first-class
// options here rather than afterthoughts.
//
// Posture:
//   - No CSP (nothing HTML is served)
//   - HSTS is opt-in and only emitted when the request actually arrived over
//     HTTPS, directly or via the proxy
//   - All headers are cheap constants computed once at install time
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security for HTTPS requests. Enable
	// only when the proxy-to-app hop is also TLS; never for localhost.
	EnableHSTS bool

	// HSTSMaxAge is the HSTS lifetime. Values <= 0 fall back to 180 days.
	HSTSMaxAge time.Duration

	// NoStore adds Cache-Control: no-store (plus the legacy Pragma/Expires
	// pair) so responses carrying customer or payment data are never cached
	// by intermediaries.
	NoStore bool

	// EnablePolicy emits browser feature policies (Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies). Harmless for the gateways and CLI
	// tooling that dominate this API's traffic; relevant for the admin UI.
	EnablePolicy bool
}

// SecurityHeaders returns a Gin middleware that stamps conservative security
// headers on every response.
//
// Always set:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// Conditionally set, per SecurityOptions: the feature-policy pair, the
// no-store cache trio, and Strict-Transport-Security (HTTPS requests only).
// When an X-Request-ID header is present it is appended to
// Access-Control-Expose-Headers so browser clients can read the correlation
// id off error envelopes.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			switch cur := h.Get(hdr); {
			case cur == "":
				h.Set(hdr, "X-Request-ID")
			case !strings.Contains(cur, "X-Request-ID"):
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request used HTTPS, either terminated here
// (r.TLS != nil) or at the proxy (X-Forwarded-Proto: https).
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
