// Package metrics provides Prometheus metrics middleware for the gateway.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// generationRequestsBySource counts generation requests by the strategy
	// that served them.
	generationRequestsBySource = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_generation_requests_total",
			Help: "Total generation requests grouped by serving strategy",
		},
		[]string{"source", "model"},
	)

	// authFlowsTotal counts authorization flow outcomes.
	authFlowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_auth_flows_total",
			Help: "Total authorization flows by outcome",
		},
		[]string{"outcome"},
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
)

// Register registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func Register() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		generationRequestsBySource,
		authFlowsTotal,
	)
}

// Middleware returns a Gin middleware that collects request count and
// duration metrics.
func Middleware() gin.HandlerFunc {
	Register()
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	Register()
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordGeneration records a generation request outcome by strategy.
func RecordGeneration(source, model string) {
	generationRequestsBySource.WithLabelValues(source, model).Inc()
}

// RecordAuthFlow records an authorization flow outcome
// ("completed", "failed" or "timeout").
func RecordAuthFlow(outcome string) {
	authFlowsTotal.WithLabelValues(outcome).Inc()
}

// normalizePath collapses dynamic path segments to keep label cardinality low.
func normalizePath(path string) string {
	switch {
	case path == "/" || path == "/healthz" || path == "/metrics":
		return path
	case path == "/auth/login" || path == "/generate":
		return path
	case len(path) > 13 && path[:13] == "/auth/status/":
		return "/auth/status/:id"
	default:
		if len(path) > 50 {
			return path[:50] + "..."
		}
		return path
	}
}
