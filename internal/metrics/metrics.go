// Package metrics defines the Prometheus collectors for the analysis queue
// service. Collectors are registered at init via promauto and shared as
// package globals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vistoria"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Queue metrics
var (
	ReportsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_processed_total",
			Help:      "Total number of reports that left the work loop",
		},
		[]string{"status"}, // completed, error, cancelled
	)

	ReportProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_processing_duration_seconds",
			Help:      "Wall time spent analyzing one report",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PhotosAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photos_analyzed_total",
			Help:      "Total number of photos run through analysis",
		},
		[]string{"result"}, // captioned, diagnostic
	)

	BreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times a critical upstream error paused the queue",
		},
	)

	QueueResumes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_resumes_total",
			Help:      "Times an operator successfully resumed the queue",
		},
	)

	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the message broker connection is live",
		},
	)
)

// Vision API metrics
var (
	VisionAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_api_calls_total",
			Help:      "Total number of vision API requests",
		},
		[]string{"status"}, // success, or the classified error kind
	)

	VisionAPIDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vision_api_duration_seconds",
			Help:      "Vision API request latency distribution",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
)
