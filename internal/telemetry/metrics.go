// Package telemetry exposes prometheus metrics for the retrieval pipeline
// and the HTTP surface.
package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal      *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	candidateCount    prometheus.Histogram
	gateDecisionTotal *prometheus.CounterVec
	correctiveTotal   *prometheus.CounterVec
	partialRetrievals prometheus.Counter
	rerankSkips       prometheus.Counter
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "retrieval",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Completed pipeline runs by verdict.",
		},
		[]string{"verdict"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	candidateCount := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "fused_candidates",
			Help:      "Distribution of fused candidate counts per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
	)
	gateDecisionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "rerank_gate_total",
			Help:      "Reranking gate decisions by outcome reason.",
		},
		[]string{"reason"},
	)
	correctiveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "corrective_total",
			Help:      "Corrective paths taken after quality evaluation.",
		},
		[]string{"path"},
	)
	partialRetrievals := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "partial_retrievals_total",
			Help:      "Queries where one retrieval channel failed.",
		},
	)
	rerankSkips := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Subsystem: "pipeline",
			Name:      "reranker_skipped_total",
			Help:      "Queries where the reranker was unavailable or errored.",
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		stageDuration,
		candidateCount,
		gateDecisionTotal,
		correctiveTotal,
		partialRetrievals,
		rerankSkips,
	)

	return &Metrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		queriesTotal:      queriesTotal,
		stageDuration:     stageDuration,
		candidateCount:    candidateCount,
		gateDecisionTotal: gateDecisionTotal,
		correctiveTotal:   correctiveTotal,
		partialRetrievals: partialRetrievals,
		rerankSkips:       rerankSkips,
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one pipeline stage's latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveQuery records a completed pipeline run.
func (m *Metrics) ObserveQuery(verdict string, fusedCandidates int) {
	m.queriesTotal.WithLabelValues(verdict).Inc()
	m.candidateCount.Observe(float64(fusedCandidates))
}

// RecordGateDecision records the rerank gate outcome.
func (m *Metrics) RecordGateDecision(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.gateDecisionTotal.WithLabelValues(reason).Inc()
}

// RecordCorrective records which corrective path a query took.
func (m *Metrics) RecordCorrective(path string) {
	m.correctiveTotal.WithLabelValues(path).Inc()
}

// RecordPartialRetrieval counts a one-channel retrieval failure.
func (m *Metrics) RecordPartialRetrieval() {
	m.partialRetrievals.Inc()
}

// RecordRerankSkip counts a degraded (unavailable) rerank stage.
func (m *Metrics) RecordRerankSkip() {
	m.rerankSkips.Inc()
}

// Middleware instruments an HTTP handler with request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, r.URL.Path).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
