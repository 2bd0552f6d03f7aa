// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus HTTP instrumentation. Labels stay bounded:
// path is the registered route (e.g. /api/videos/:id) and every unmatched
// request shares UnmatchedPath. Provider callbacks are also counted per
// webhook so a silent render engine or messaging provider shows up as a flat
// line next to the API traffic.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is left out to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				64, 128, 256, 512, 1 << 10, 2 << 10, 5 << 10, // status bodies
				10 << 10, 25 << 10, 50 << 10, 100 << 10, // listings
			},
		},
		[]string{"method", "path"},
	)

	webhookCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_webhook_callbacks_total",
			Help: "Provider callbacks received, by webhook and response status.",
		},
		[]string{"webhook", "status"},
	)
)

// UnmatchedPath is the path label of requests that hit no route.
const UnmatchedPath = "unmatched"

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, webhookCallbacks)
}

// Metrics records request count, latency, size and concurrency per route,
// plus the per-webhook callback counter for routes under /webhooks/.
// Mount the collector with:
//
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = UnmatchedPath
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if name := webhookName(path); name != "" {
			webhookCallbacks.WithLabelValues(name, status).Inc()
		}
	}
}

// webhookName maps "/webhooks/messaging/status" to "messaging_status"; any
// other route yields "".
func webhookName(route string) string {
	if !strings.HasPrefix(route, webhookPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.TrimPrefix(route, webhookPrefix), "/", "_")
}
