// Package metrics defines custom Prometheus metrics for firebridge.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for payload size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Outcome label values for BridgeEventsTotal.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDropped   = "dropped"
	OutcomeCancelled = "cancelled"
)

// Bridge metrics.
var (
	// BridgeSubscriptionsTotal counts subscriptions by operation name.
	BridgeSubscriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firebridge_subscriptions_total",
			Help: "Bridge subscriptions by operation",
		},
		[]string{"operation"},
	)

	// BridgeEventsTotal counts how subscriptions ended.
	BridgeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firebridge_events_total",
			Help: "Bridge terminal events by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// BridgeOperationDuration observes time from subscription to callback.
	BridgeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firebridge_operation_duration_seconds",
			Help:    "Vendor call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// BridgeWorkersBusy tracks worker slots currently held.
	BridgeWorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firebridge_workers_busy",
			Help: "Worker slots currently running vendor calls",
		},
	)

	// UploadSize observes the size of resolved upload payloads.
	UploadSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firebridge_upload_size_bytes",
			Help:    "Upload payload size in bytes",
			Buckets: sizeBuckets,
		},
	)
)

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firebridge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firebridge_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firebridge_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BridgeSubscriptionsTotal,
			BridgeEventsTotal,
			BridgeOperationDuration,
			BridgeWorkersBusy,
			UploadSize,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
		)
		// Initialize so the series appear in /metrics before any traffic.
		for _, op := range []string{"document", "query", "query_lenient", "upload"} {
			BridgeSubscriptionsTotal.WithLabelValues(op)
		}
	})
}

// NormalizePath maps request paths to route templates suitable for use as
// Prometheus metric labels, avoiding one series per document or object.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi.json", "/openapi.yaml", "/", "":
		if path == "" {
			return "/"
		}
		return path
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case segments[0] == "objects":
		return "/objects/{key}"
	case segments[0] != "v1" || len(segments) < 2:
		return "/other"
	}

	switch segments[1] {
	case "documents":
		if len(segments) == 4 {
			return "/v1/documents/{collection}/{id}"
		}
	case "collections":
		if len(segments) == 3 {
			return "/v1/collections/{collection}"
		}
	case "objects":
		if len(segments) >= 3 {
			return "/v1/objects/{key}"
		}
	}
	return "/other"
}
