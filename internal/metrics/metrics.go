// Package metrics provides Prometheus instrumentation for the pipeline and
// the HTTP API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts finished pipeline runs by terminal status and whether
	// any stage was degraded.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefinder_pipeline_runs_total",
		Help: "Finished pipeline runs",
	}, []string{"status", "degraded"})

	// RunConflicts counts runs refused because another run held the lock.
	RunConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefinder_pipeline_run_conflicts_total",
		Help: "Pipeline runs rejected because another run was in flight",
	})

	// StageDuration tracks stage wall time by stage and outcome.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgefinder_pipeline_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage", "status"})

	// MarketsFetched counts normalized records per venue.
	MarketsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefinder_markets_fetched_total",
		Help: "Normalized market records fetched per venue",
	}, []string{"venue"})

	// RecordsSkipped counts records dropped by normalization or embedding.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefinder_records_skipped_total",
		Help: "Records skipped per venue and reason",
	}, []string{"venue", "reason"})

	// MatchesFound tracks the best-match count of the latest run.
	MatchesFound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgefinder_matches",
		Help: "Best matches produced by the latest run",
	})

	// ArbitrageOpportunities tracks matched events with a positive edge in
	// the latest snapshot.
	ArbitrageOpportunities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgefinder_arbitrage_opportunities",
		Help: "Matched events with a positive edge in the latest snapshot",
	})

	// EdgeObservations counts observations appended to the edge history.
	EdgeObservations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefinder_edge_observations_total",
		Help: "Edge observations appended",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgefinder_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefinder_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgefinder_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "route"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records one stage outcome.
func ObserveStage(stage, status string, d time.Duration) {
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// ObserveRun records one finished run.
func ObserveRun(status string, degraded bool) {
	RunsTotal.WithLabelValues(status, strconv.FormatBool(degraded)).Inc()
}

// Middleware records request metrics. The route label is the ServeMux
// pattern, which the mux sets on the request during dispatch.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
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

// Hijack implements http.Hijacker so websocket upgrades pass through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
