// Package metrics defines custom Prometheus metrics for the storage service.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekon_storage_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekon_storage_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekon_storage_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekon_storage_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Upload engine metrics.
var (
	// SessionsIssuedTotal counts issued upload sessions by category.
	SessionsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekon_storage_sessions_issued_total",
			Help: "Upload sessions issued by destination category",
		},
		[]string{"category"},
	)

	// ChunksReceivedTotal counts staged chunk writes.
	ChunksReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rekon_storage_chunks_received_total",
			Help: "Chunks accepted into staging",
		},
	)

	// FinalizeTotal counts finalize outcomes: "assembled", "already_completed",
	// "count_mismatch", "error".
	FinalizeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekon_storage_finalize_total",
			Help: "Finalize attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AssembledBytesTotal counts bytes written into final artifacts.
	AssembledBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rekon_storage_assembled_bytes_total",
			Help: "Total bytes assembled into final artifacts",
		},
	)

	// ThumbnailsTotal counts thumbnail derivation outcomes: "success", "failure".
	ThumbnailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekon_storage_thumbnails_total",
			Help: "Thumbnail derivations by outcome",
		},
		[]string{"outcome"},
	)

	// AuthVerifyTotal counts auth collaborator calls: "valid", "invalid",
	// "unavailable".
	AuthVerifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekon_storage_auth_verify_total",
			Help: "verifyToken calls by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			SessionsIssuedTotal,
			ChunksReceivedTotal,
			FinalizeTotal,
			AssembledBytesTotal,
			ThumbnailsTotal,
			AuthVerifyTotal,
		)
		// Initialize FinalizeTotal so it appears in /metrics output even
		// before any upload has been finalized.
		FinalizeTotal.WithLabelValues("assembled")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from per-session tokens and account IDs.
func NormalizePath(path string) string {
	switch path {
	case "/health":
		return "/health"
	case "/metrics":
		return "/metrics"
	case "/openapi.json":
		return "/openapi.json"
	case "/getUploadToken":
		return "/getUploadToken"
	case "/completeUpload":
		return "/completeUpload"
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	switch {
	case strings.HasPrefix(path, "/uploadChunk/"):
		return "/uploadChunk/{token}/{index}"
	case strings.HasPrefix(path, "/getFile/"):
		return "/getFile/{token}"
	case strings.HasPrefix(path, "/deleteFile/"):
		return "/deleteFile/{token}"
	case strings.HasPrefix(path, "/profilePicture/"):
		return "/profilePicture/{accountID}"
	}

	return "/other"
}
