// Package metrics provides Prometheus instrumentation for the arena engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesBooked counts trades committed to the ledger, partitioned by side.
	TradesBooked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_trades_booked_total",
		Help: "Total number of trades booked",
	}, []string{"side"})

	// TradesRejected counts bookings rejected before commit, by reason.
	TradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_trades_rejected_total",
		Help: "Trade bookings rejected before commit",
	}, []string{"reason"})

	// BookingLatency tracks end-to-end trade booking latency.
	BookingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_booking_latency_seconds",
		Help:    "Trade booking latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Subscribers tracks connected subscribers per broadcast feed.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arena_feed_subscribers",
		Help: "Number of connected subscribers per feed",
	}, []string{"feed"})

	// PublishDuration tracks build-plus-fanout time per broadcast tick.
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_feed_publish_duration_seconds",
		Help:    "Broadcast publish duration per tick",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"feed"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the wrapped writer so WebSocket upgrades work on
// instrumented routes.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
