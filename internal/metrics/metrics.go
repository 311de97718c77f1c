// Package metrics holds the Prometheus collectors for the circulation service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the circulation collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "circulus",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "circulus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "circulus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "circulus",
			Subsystem: "circulation",
			Name:      "transactions_total",
			Help:      "Circulation transactions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "circulus",
			Subsystem: "circulation",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of circulation transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "circulus",
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Invariant audit runs by check and verdict.",
		},
		[]string{"check", "verdict"},
	)

	auditViolations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "circulus",
			Subsystem: "audit",
			Name:      "violations",
			Help:      "Violations found by the most recent run of each check.",
		},
		[]string{"check"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transactions,
		transactionDuration,
		auditRuns,
		auditViolations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency, labelled by the chi
// route pattern so path parameters do not explode the label space.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordTransaction counts one circulation transaction.
func RecordTransaction(operation, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	transactions.WithLabelValues(operation, outcome).Inc()
	transactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAudit stores the verdict of one audit check.
func RecordAudit(check string, violations int, passed bool) {
	verdict := "failed"
	if passed {
		verdict = "passed"
	}
	auditRuns.WithLabelValues(check, verdict).Inc()
	auditViolations.WithLabelValues(check).Set(float64(violations))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
