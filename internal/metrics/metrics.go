// Package metrics exposes Prometheus collectors for the intake service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	intakeRunsTotal          *prometheus.CounterVec
	intakeRunDurationSeconds *prometheus.HistogramVec
	intakePublicationsTotal  *prometheus.CounterVec
	intakeTriageTotal        *prometheus.CounterVec
	intakeWorkItemsTotal     prometheus.Counter
	intakeDuplicatesTotal    *prometheus.CounterVec
	intakeActiveWorkers      prometheus.Gauge

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		intakeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_source_runs_total",
				Help: "Total number of source adapter runs, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		intakeRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_source_run_duration_seconds",
				Help:    "Histogram of source run durations, labeled by source.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)

		intakePublicationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_publications_total",
				Help: "Total publications reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		intakeTriageTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_triage_total",
				Help: "Total publications routed to triage, labeled by reason.",
			},
			[]string{"reason"},
		)

		intakeWorkItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_work_items_created_total",
				Help: "Total work items created on the external task board.",
			},
		)

		intakeDuplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_duplicates_total",
				Help: "Total records rejected by the deduplication store, labeled by source.",
			},
			[]string{"source"},
		)

		intakeActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "intake_active_workers",
				Help: "Number of scheduler workers currently running a source.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_http_requests_total",
				Help: "Total HTTP requests served by the operational API, labeled by method and status.",
			},
			[]string{"method", "status"},
		)

		httpRequestDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_http_request_duration_seconds",
				Help:    "Histogram of operational API request durations.",
				Buckets: prometheus.DefBuckets,
			},
		)
	})
}

// Middleware records request counts and durations for the operational API.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		httpRequestDurationSeconds.Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one finished source run.
func ObserveRun(source, outcome string, duration time.Duration) {
	intakeRunsTotal.WithLabelValues(source, outcome).Inc()
	intakeRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePublication increments the terminal-status counter.
func ObservePublication(status string) {
	intakePublicationsTotal.WithLabelValues(status).Inc()
}

// ObserveTriage increments the triage counter for the given reason.
func ObserveTriage(reason string) {
	intakeTriageTotal.WithLabelValues(reason).Inc()
}

// ObserveWorkItem increments the created work item counter.
func ObserveWorkItem() {
	intakeWorkItemsTotal.Inc()
}

// ObserveDuplicate increments the duplicate counter for a source.
func ObserveDuplicate(source string) {
	intakeDuplicatesTotal.WithLabelValues(source).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	intakeActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	intakeActiveWorkers.Dec()
}
