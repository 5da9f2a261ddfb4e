package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	// Deterministic IP for ClientIP()
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(w)
	c.Request = req

	// No X-Client-ID -> IP bucket
	key := KeyByClientOrIP()(c)
	if !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key; got %q", key)
	}

	// Gateway integration header wins over IP
	req.Header.Set(clientIDHeader, "gateway-eu-1")
	if got := KeyByClientOrIP()(c); got != "client:gateway-eu-1" {
		t.Fatalf("expected client-based key; got %q", got)
	}
}

func TestNewRateLimiter_BurstCoercion_AndBucketReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByClientOrIP()) // burst<=0 coerced to 1
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}

	lim := rl.bucketFor("client:storefront")
	if lim == nil {
		t.Fatalf("expected limiter")
	}
	// Same key must reuse the same bucket, not mint a fresh one.
	if got := rl.bucketFor("client:storefront"); got != lim {
		t.Fatalf("expected same limiter instance to be reused")
	}
}

func TestRateLimiter_Sweep_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByClientOrIP())
	rl.ttl = 1 * time.Nanosecond // everything counts as idle

	// An integration that has not called in a long time.
	rl.mu.Lock()
	rl.buckets["client:stale-gateway"] = &bucket{
		lim:      rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.sweepN = sweepEvery - 1 // next lookup triggers the sweep
	rl.mu.Unlock()

	_ = rl.bucketFor("client:active-gateway")

	rl.mu.Lock()
	_, stale := rl.buckets["client:stale-gateway"]
	_, active := rl.buckets["client:active-gateway"]
	rl.mu.Unlock()

	if stale {
		t.Fatalf("expected idle bucket to be swept")
	}
	if !active {
		t.Fatalf("expected fresh bucket to be created")
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/coupons/apply", nil)
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false by default")
	}

	// Flag set the way IdempotencyValidator does for recognized replays.
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=true when set")
	}

	// Non-bool garbage reads as false, never panics.
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false when non-bool stored")
	}
}

func TestRateLimiter_Handler_Allow_Deny_And_ReplayBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// rps=1, burst=1: the first delivery passes, the immediate redelivery
	// without a replay flag is throttled.
	rl := NewRateLimiter(1.0, 1, KeyByClientOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.POST("/webhooks/payment", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	deliver := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
		req.Header.Set(clientIDHeader, "gateway-eu-1")
		r.ServeHTTP(w, req)
		return w
	}

	if w := deliver(); w.Code != http.StatusOK {
		t.Fatalf("first delivery should pass, got %d", w.Code)
	}

	w2 := deliver()
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second delivery should be limited, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["message"] != "rate limit exceeded" {
		t.Fatalf("unexpected JSON body: %v", body)
	}

	// A recognized ledger replay rides through the same exhausted bucket.
	rReplay := gin.New()
	rReplay.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	rReplay.Use(rl.Handler())
	rReplay.POST("/webhooks/payment", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	req3.Header.Set(clientIDHeader, "gateway-eu-1")
	rReplay.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("replay should bypass the limiter, got %d", w3.Code)
	}

	// Integrations do not share buckets: a different client id still passes.
	w4 := httptest.NewRecorder()
	req4 := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	req4.Header.Set(clientIDHeader, "storefront")
	r.ServeHTTP(w4, req4)
	if w4.Code != http.StatusOK {
		t.Fatalf("distinct integration should have its own bucket, got %d", w4.Code)
	}
}
