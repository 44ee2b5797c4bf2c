// Package metrics provides Prometheus metrics for relay job execution.
//
// # Overview
//
// The metrics package provides:
//   - Job outcome and retry counters
//   - Extracted and uploaded record counters
//   - A gauge for in-flight sub-resource fetches
//   - Stage duration and HTTP request histograms
//
// All collectors register with the default Prometheus registry on package
// initialization and are exposed by the worker's /metrics endpoint.
//
// # Basic Usage
//
//	timer := metrics.NewTimer(metrics.StageFetch)
//	result, err := source.Fetch(ctx)
//	timer.ObserveDuration()
//
//	metrics.RecordsExtracted.WithLabelValues("alm").Add(float64(len(result.Records)))
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage names used as the "stage" label
const (
	StageInit   = "init"
	StageFetch  = "fetch"
	StageUpload = "upload"
	StageExport = "export"
	StageTotal  = "total"
)

var (
	// JobsTotal counts job runs by outcome.
	// Labels: status (completed/failed/cancelled/retry)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_jobs_total",
			Help: "Total number of job runs by outcome",
		},
		[]string{"status"},
	)

	// RecordsExtracted counts records returned by sources.
	// Labels: source (adapter type key)
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_records_extracted_total",
			Help: "Total number of records extracted from sources",
		},
		[]string{"source"},
	)

	// RecordsUploaded counts per-item upload outcomes.
	// Labels: destination (adapter type key), status (success/failure)
	RecordsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_records_uploaded_total",
			Help: "Total number of records submitted to destinations",
		},
		[]string{"destination", "status"},
	)

	// SubFetchInFlight tracks sub-resource fetches currently running
	SubFetchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subfetch_in_flight",
			Help: "Number of sub-resource fetches currently in flight",
		},
	)

	// PathLookups counts remote hierarchical path segment lookups
	PathLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_path_lookups_total",
			Help: "Total number of remote path segment lookups",
		},
	)

	// StageDuration tracks how long each job stage takes, in seconds
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_stage_duration_seconds",
			Help:    "Duration of job stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	// HTTPRequests counts outbound adapter requests.
	// Labels: adapter, method, status (HTTP code, or "error" on transport failure)
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"adapter", "method", "status"},
	)

	// HTTPDuration tracks outbound request latency in seconds
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Outbound HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)
)

// RecordHTTPRequest records one outbound request. A zero status means the
// request failed before a response arrived.
func RecordHTTPRequest(adapter, method string, status int, d time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	HTTPRequests.WithLabelValues(adapter, method, code).Inc()
	HTTPDuration.WithLabelValues(adapter).Observe(d.Seconds())
}

// RecordUpload adds per-item upload outcomes for a destination
func RecordUpload(destination string, success, failure int) {
	if success > 0 {
		RecordsUploaded.WithLabelValues(destination, "success").Add(float64(success))
	}
	if failure > 0 {
		RecordsUploaded.WithLabelValues(destination, "failure").Add(float64(failure))
	}
}

// Timer measures one job stage
type Timer struct {
	start time.Time
	stage string
}

// NewTimer starts timing a stage
func NewTimer(stage string) *Timer {
	return &Timer{
		start: time.Now(),
		stage: stage,
	}
}

// ObserveDuration records the elapsed time in StageDuration and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	StageDuration.WithLabelValues(t.stage).Observe(d.Seconds())
	return d
}
