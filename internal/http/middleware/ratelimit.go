// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-client token bucket in front of the video API.
// Intake is the expensive path (media preparation plus a render submission),
// so clients are keyed by X-Client-ID when they send one and by IP otherwise.
// Replays flagged by IdempotencyValidator skip the limiter since they never
// reach the pipeline. Buckets live in process memory; idle ones are evicted
// opportunistically.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	visitorTTL      = 10 * time.Minute
	cleanupInterval = 5000 // lookups between idle sweeps
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByHeaderOrIP keys by the trimmed value of header ("client:<v>") and
// falls back to the client IP ("ip:<addr>"). The prefixes keep the two
// namespaces apart.
func KeyByHeaderOrIP(header string) keyFunc {
	return func(c *gin.Context) string {
		if header != "" {
			if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
				return "client:" + v
			}
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. It is safe for concurrent
// use.
type RateLimiter struct {
	rps        rate.Limit
	burst      int
	keyFn      keyFunc
	retryAfter string

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst. A burst <= 0 is treated as 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		keyFn:      keyFn,
		retryAfter: retryAfterSeconds(rps),
		visitors:   make(map[string]*visitor),
		ttl:        visitorTTL,
	}
}

// retryAfterSeconds is the whole seconds until one token refills, at least 1.
func retryAfterSeconds(rps float64) string {
	if rps <= 0 {
		return "60"
	}
	secs := int(math.Ceil(1 / rps))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// getVisitor returns the limiter for key, creating it if absent. Idle
// entries are swept first so the requested key can itself be evicted and
// recreated with a full bucket.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= cleanupInterval {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as
// a replay.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. A denied request gets 429 with a Retry-After
// matching the refill rate and the standard error envelope:
//
//	{"request_id": "<X-Request-ID>", "code": "rate_limited", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		if rl.getVisitor(key).Allow() {
			c.Next()
			return
		}

		LoggerFrom(c).Warn().Str("client", key).Msg("rate limited")
		c.Header("Retry-After", rl.retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": correlationID(c),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
