package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth lifecycle metrics (client side).
var (
	authOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth gateway operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	tokenRenewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_renewals_total",
			Help: "Transparent access token renewals by outcome.",
		},
		[]string{"outcome"},
	)

	tokenRenewalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auth_token_renewal_duration_seconds",
			Help:    "Latency of the token renewal round trip.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// HTTP server metrics (mock backend).
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		authOperationsTotal,
		tokenRenewalsTotal,
		tokenRenewalDuration,
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthOperation records one gateway operation result.
func ObserveAuthOperation(operation, outcome string) {
	authOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveTokenRenewal records one renewal attempt and its latency.
func ObserveTokenRenewal(outcome string, duration time.Duration) {
	tokenRenewalsTotal.WithLabelValues(outcome).Inc()
	tokenRenewalDuration.Observe(duration.Seconds())
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
