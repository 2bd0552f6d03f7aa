// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, the response hardening applied to the
// video API, webhooks and docs. Status bodies change on every poll, so API
// responses are marked no-store; the swagger UI assets are static and may be
// cached. HSTS is opt-in and only sent on HTTPS requests.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
//
// CacheablePrefixes lists path prefixes (e.g. "/swagger/") exempt from the
// no-store headers. Expose names response headers browser clients may read;
// it defaults to X-Request-ID.
type SecurityOptions struct {
	EnableHSTS        bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge        time.Duration // <= 0 means 180 days
	NoStore           bool
	EnablePolicy      bool // Permissions-Policy and X-Permitted-Cross-Domain-Policies
	CacheablePrefixes []string
	Expose            []string
}

// SecurityHeaders returns a middleware that sets nosniff, frame denial and
// no-referrer on every response, plus the optional headers the options
// enable. Exposed headers are merged into any Access-Control-Expose-Headers
// value set earlier in the chain.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	expose := opt.Expose
	if len(expose) == 0 {
		expose = []string{requestIDHeader}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore && !hasAnyPrefix(c.Request.URL.Path, opt.CacheablePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		h.Set("Access-Control-Expose-Headers", mergeHeaderList(h.Get("Access-Control-Expose-Headers"), expose))

		c.Next()
	}
}

// mergeHeaderList appends the names in add that cur does not already list.
func mergeHeaderList(cur string, add []string) string {
	have := make(map[string]struct{})
	var out []string
	for _, name := range strings.Split(cur, ",") {
		if name = strings.TrimSpace(name); name != "" {
			have[strings.ToLower(name)] = struct{}{}
			out = append(out, name)
		}
	}
	for _, name := range add {
		if _, ok := have[strings.ToLower(name)]; ok {
			continue
		}
		have[strings.ToLower(name)] = struct{}{}
		out = append(out, name)
	}
	return strings.Join(out, ", ")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// isHTTPS reports TLS on the connection or X-Forwarded-Proto: https from a
// proxy.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
