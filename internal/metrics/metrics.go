// Package metrics provides Prometheus instrumentation for the swapdesk service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapdesk",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swapdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SubmissionsTotal counts ledger transaction submissions by operation and outcome.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapdesk",
			Name:      "submissions_total",
			Help:      "Ledger transaction submissions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// ConfirmationDuration observes broadcast-to-confirmed latency.
	ConfirmationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "swapdesk",
			Name:      "confirmation_duration_seconds",
			Help:      "Time from broadcast to confirmed acknowledgment.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// EscrowsTotal counts escrow lifecycle transitions by final status.
	EscrowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapdesk",
			Name:      "escrows_total",
			Help:      "Escrow lifecycle operations by resulting status.",
		},
		[]string{"status"},
	)

	// IndexWritesTotal counts off-chain index writes by result.
	IndexWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapdesk",
			Name:      "index_writes_total",
			Help:      "Off-chain index writes by operation and result.",
		},
		[]string{"op", "result"},
	)

	// ReconcileDivergences counts ledger/index divergences found by the sweep.
	ReconcileDivergences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapdesk",
			Name:      "reconcile_divergences_total",
			Help:      "Ledger vs index divergences found by the reconciliation sweep.",
		},
		[]string{"kind"},
	)

	// ActiveWebSocketClients tracks connected status-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swapdesk",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SubmissionsTotal,
		ConfirmationDuration,
		EscrowsTotal,
		IndexWritesTotal,
		ReconcileDivergences,
		ActiveWebSocketClients,
	)
}

// Middleware records request counts and latency for gin routes.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
