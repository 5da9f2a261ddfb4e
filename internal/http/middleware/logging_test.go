package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

func TestRequestID_MintAndReuse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.POST("/webhooks/payment", func(c *gin.Context) {
		if v, ok := c.Get(requestIDKey); !ok || v == "" {
			t.Fatalf("requestID not set in context")
		}
		c.String(http.StatusOK, "ok")
	})

	// No header: a fresh id is minted.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	r.ServeHTTP(w, req)
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected minted %s header", requestIDHeader)
	}

	// A gateway delivery id is reused verbatim, however the header is cased.
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	req2.Header.Set(strings.ToLower(requestIDHeader), "evt_delivery_001")
	r.ServeHTTP(w2, req2)
	if got := w2.Header().Get(requestIDHeader); got != "evt_delivery_001" {
		t.Fatalf("expected delivery id reused, got %q", got)
	}
}

func TestLogger_LevelsClientIDAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())

	r.GET("/coupons", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.POST("/coupons/apply", func(c *gin.Context) {
		_ = c.Error(errApplyRejected{})
		c.Status(http.StatusBadRequest)
	})

	// 200 on a matched route: info line with the route path and client id.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/coupons", nil)
	req.Header.Set(clientIDHeader, "storefront")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /coupons -> %d", w.Code)
	}

	// Unmatched route: warn line with the raw URL path.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /no-such-route -> %d", w.Code)
	}

	// Gin error list populated: error line even though the status is 4xx.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/coupons/apply", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /coupons/apply -> %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) || !strings.Contains(logs, `"path":"/coupons"`) {
		t.Fatalf("expected info log with route path, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"client_id":"storefront"`) {
		t.Fatalf("expected calling integration in log, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"path":"/no-such-route"`) {
		t.Fatalf("expected warn log with raw path fallback, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) {
		t.Fatalf("expected error log, got:\n%s", logs)
	}
}

type errApplyRejected struct{}

func (errApplyRejected) Error() string { return "apply rejected" }

func TestRecovery_PanicToJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(Recovery())

	r.POST("/coupons/apply", func(c *gin.Context) {
		panic("nil coupon row")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/coupons/apply", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["message"] != "internal server error" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["request_id"] == "" {
		t.Fatalf("expected correlation id in error envelope: %v", body)
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", out)
	}
}

func TestRecovery_PanicAfterWrite_AbortsWithoutJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(Recovery())

	// A handler that flushed part of a body before panicking; the JSON
	// envelope cannot be written over it.
	r.GET("/coupons", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late failure")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/coupons", nil)
	r.ServeHTTP(w, req)

	if strings.Contains(w.Body.String(), "internal error") ||
		strings.Contains(strings.ToLower(w.Header().Get("Content-Type")), "application/json") {
		t.Fatalf("expected no JSON error body after partial write; got CT=%q body=%q",
			w.Header().Get("Content-Type"), w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Without Logger() the fallback carries no request fields.
	buf1 := captureLogger(t)
	r1 := gin.New()
	r1.Use(RequestID())
	r1.GET("/coupons", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("listing coupons")
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r1.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/coupons", nil))
	if !strings.Contains(buf1.String(), `"message":"listing coupons"`) {
		t.Fatalf("expected fallback logger output")
	}
	if strings.Contains(buf1.String(), `"request_id"`) {
		t.Fatalf("fallback logger unexpectedly had request_id")
	}

	// With Logger() the request-scoped logger carries the correlation id.
	buf2 := captureLogger(t)
	r2 := gin.New()
	r2.Use(RequestID())
	r2.Use(Logger())
	r2.GET("/coupons", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("listing coupons again")
		c.Status(http.StatusOK)
	})
	w2 := httptest.NewRecorder()
	r2.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/coupons", nil))
	out := buf2.String()
	if !strings.Contains(out, `"message":"listing coupons again"`) {
		t.Fatalf("expected request-scoped logger output")
	}
	if !strings.Contains(out, `"request_id"`) {
		t.Fatalf("expected request-scoped logger to include request_id")
	}
}

func TestHelpers_asString_and_truncate(t *testing.T) {
	if asString("order_1042") != "order_1042" || asString(1042) != "" {
		t.Fatalf("asString failed")
	}
	if truncate("code=SAVE20", 64) != "code=SAVE20" {
		t.Fatalf("truncate no-op failed")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate result = %q; want %q", got, "abcde…")
	}
	if truncate("abc", 0) != "abc" {
		t.Fatalf("truncate with cap disabled failed")
	}
}
