// Package metrics exposes Prometheus collectors for HTTP traffic and the
// credit, claim and estimation flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flipdeck",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flipdeck",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Ledger metrics
	ledgerMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flipdeck",
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Ledger entries written, by source",
		},
		[]string{"source"},
	)

	// Community claim metrics
	claimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flipdeck",
			Subsystem: "community",
			Name:      "claims_total",
			Help:      "Claim attempts, by outcome",
		},
		[]string{"outcome"},
	)

	jobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flipdeck",
			Subsystem: "community",
			Name:      "jobs_finished_total",
			Help:      "Community jobs reaching a terminal state",
		},
		[]string{"state"},
	)

	// Estimation metrics
	estimationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flipdeck",
			Subsystem: "estimation",
			Name:      "requests_total",
			Help:      "Estimation requests, by outcome",
		},
		[]string{"outcome"},
	)

	// Scheduler metrics
	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flipdeck",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Background task runs, by task and outcome",
		},
		[]string{"task", "outcome"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns a middleware that records Prometheus metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		// Route pattern keeps label cardinality bounded
		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLedgerMutation counts a written ledger entry.
func RecordLedgerMutation(source string) {
	ledgerMutationsTotal.WithLabelValues(source).Inc()
}

// RecordClaim counts a claim attempt. Outcome is "claimed" or a rejection code.
func RecordClaim(outcome string) {
	claimsTotal.WithLabelValues(outcome).Inc()
}

// RecordJobFinished counts a job reaching a terminal state.
func RecordJobFinished(state string) {
	jobsFinishedTotal.WithLabelValues(state).Inc()
}

// RecordEstimation counts an estimation request. Outcome is "debited",
// "replayed" or a rejection code.
func RecordEstimation(outcome string) {
	estimationsTotal.WithLabelValues(outcome).Inc()
}

// RecordSchedulerRun counts a background task run. Outcome is "ok" or "error".
func RecordSchedulerRun(task, outcome string) {
	schedulerRunsTotal.WithLabelValues(task, outcome).Inc()
}
