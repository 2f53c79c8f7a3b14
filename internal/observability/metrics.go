package observability

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Define Prometheus metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	registeredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_workers",
			Help: "Number of workers currently registered.",
		},
	)

	handoffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_handoffs_total",
			Help: "Registry ownership handoff attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(registeredWorkers)
	prometheus.MustRegister(handoffsTotal)
}

// MetricsMiddleware is a middleware to collect metrics for each HTTP request
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Start timer
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, "200"))
		defer timer.ObserveDuration()

		// Capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// Update Prometheus counters
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, fmt.Sprint(ww.status)).Inc()
	})
}

// statusWriter captures the HTTP status code for Prometheus metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RecordWorkerCount updates the registered worker gauge
func RecordWorkerCount(n int) {
	registeredWorkers.Set(float64(n))
}

// RecordHandoff counts a handoff attempt. Outcome is one of
// "transferred", "discarded" or "failed".
func RecordHandoff(outcome string) {
	handoffsTotal.WithLabelValues(outcome).Inc()
}

var metricsOnce sync.Once

// ServeMetrics starts an HTTP server that exposes the Prometheus metrics endpoint
func ServeMetrics(addr string) {
	metricsOnce.Do(func() {
		http.Handle("/metrics", promhttp.Handler()) // Expose the /metrics endpoint for Prometheus
		log.Info().Str("addr", addr).Msg("starting registry metrics server")

		// Start the HTTP server to expose metrics
		go func() {
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	})
}
