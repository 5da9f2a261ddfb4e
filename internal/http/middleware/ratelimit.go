// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-memory token-bucket limiter that sits in front
// of the webhook intake and the admin API. Payment gateways redeliver events
// in bursts after an outage, and replay tooling can hammer the apply endpoint,
// so the limiter keys buckets per calling integration rather than per user:
//
//   - Per-integration token buckets via golang.org/x/time/rate
//   - Bucket identity from the X-Client-ID header (gateway/storefront
//     integration id), falling back to the client IP
//   - Ledger replays flagged by IdempotencyValidator pass through for free
//   - Idle buckets are swept opportunistically so memory stays bounded
//
// The limiter is process-local. A horizontally scaled deployment needs a
// shared limiter (Redis or the ingress tier) for a global ceiling; this one
// provides edge abuse control for a single instance.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// clientIDHeader names the integration calling this API. The storefront
	// and the gateway webhook shim each send their own stable value.
	clientIDHeader = "X-Client-ID"

	// sweepEvery is the number of bucket lookups between idle-bucket sweeps.
	sweepEvery = 5000

	// bucketIdleTTL is how long an untouched bucket survives before a sweep
	// may drop it.
	bucketIdleTTL = 10 * time.Minute
)

// keyFunc maps a request to the identity that owns its token bucket. The
// returned string must be stable for the lifetime of the request and is
// namespaced to keep header-derived and IP-derived identities apart.
type keyFunc func(*gin.Context) string

// KeyByClientOrIP keys buckets by the X-Client-ID header when the caller
// sends one ("client:<id>"), and by remote address otherwise ("ip:<addr>").
//
// Gateways and the storefront are configured to send the header, so their
// redelivery bursts never share a bucket with anonymous traffic.
func KeyByClientOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := c.GetHeader(clientIDHeader); id != "" {
			return "client:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket pairs a limiter with its last-use timestamp so sweeps can tell
// idle integrations from active ones.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out tokens per calling integration. Buckets are created
// lazily, guarded by a mutex, and swept during lookups once enough lookups
// have accumulated. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	sweepN  uint64
}

// NewRateLimiter builds a limiter replenishing rps tokens per second with the
// given burst capacity, keyed by keyFn. A burst below 1 is coerced to 1 so a
// misconfigured deployment still serves one request at a time instead of none.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     bucketIdleTTL,
	}
}

// bucketFor returns the limiter owning key, creating it when absent. Every
// sweepEvery lookups it first drops buckets idle for at least ttl; the sweep
// runs before the requested bucket is touched, so a stale bucket is evicted
// even when it is the one being fetched.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	rl.sweepN++
	if rl.sweepN >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.sweepN = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		lim := b.lim
		rl.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{lim: lim, lastSeen: now}
	rl.mu.Unlock()
	return lim
}

// IsRateBypass reports whether IdempotencyValidator recognized this request
// as a ledger replay. Replays are answered from existing state and cost the
// caller nothing, so Handler serves them without consuming tokens; a gateway
// redelivering a backlog of already-recorded events is never throttled into
// redelivering it again.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the Gin middleware enforcing the per-integration limit.
//
// Recognized ledger replays skip limiting entirely. Everything else draws a
// token from its bucket; an empty bucket answers 429 with the standard error
// envelope and a minimal Retry-After so well-behaved gateways back off:
//
//	HTTP/1.1 429 Too Many Requests
//	{
//	  "request_id": "<uuid>",
//	  "code":       "rate_limited",
//	  "message":    "rate limit exceeded"
//	}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		if rl.bucketFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
