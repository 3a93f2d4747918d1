package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the dashboard backend
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voltwatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// Upstream telemetry API calls
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_upstream_requests_total",
			Help: "Total number of requests to the telemetry API",
		},
		[]string{"endpoint", "status_code"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voltwatch_upstream_request_duration_seconds",
			Help:    "Telemetry API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Refresh cycle
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_refresh_total",
			Help: "Total number of dashboard refreshes by outcome",
		},
		[]string{"outcome"},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voltwatch_refresh_duration_seconds",
			Help:    "Duration of a dashboard refresh",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	payloadShapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_payload_shapes_total",
			Help: "Upstream payloads by detected layout",
		},
		[]string{"shape"},
	)

	seriesSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voltwatch_series_samples",
			Help: "Samples in the current snapshot after filtering",
		},
		[]string{"device"},
	)

	unparseableTimestampsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_unparseable_timestamps_total",
			Help: "Samples kept despite an unparseable timestamp",
		},
		[]string{"device"},
	)

	// Alerts
	alertsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_alerts_published_total",
			Help: "Deviation alerts published by severity and sink",
		},
		[]string{"severity", "sink"},
	)

	alertPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_alert_publish_errors_total",
			Help: "Deviation alerts that failed to publish",
		},
		[]string{"sink"},
	)

	// WebSocket metrics
	websocketConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voltwatch_websocket_connections_total",
			Help: "Total number of WebSocket connections",
		},
	)

	websocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voltwatch_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// Payload cache
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltwatch_cache_lookups_total",
			Help: "Payload cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordUpstreamRequest records a call to the telemetry API. statusCode is 0 when
// no response was received.
func RecordUpstreamRequest(endpoint string, statusCode int, duration time.Duration) {
	upstreamRequestsTotal.With(prometheus.Labels{
		"endpoint":    endpoint,
		"status_code": strconv.Itoa(statusCode),
	}).Inc()
	upstreamRequestDuration.With(prometheus.Labels{"endpoint": endpoint}).Observe(duration.Seconds())
}

// RecordRefresh records one refresh cycle. outcome is "ok", "no_data",
// "unknown_format" or "error".
func RecordRefresh(outcome string, duration time.Duration) {
	refreshTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	refreshDuration.Observe(duration.Seconds())
}

// RecordPayloadShape counts a classified upstream payload
func RecordPayloadShape(shape string) {
	payloadShapesTotal.With(prometheus.Labels{"shape": shape}).Inc()
}

// SetSeriesSamples sets the sample count of the current snapshot for device
func SetSeriesSamples(device string, count int) {
	seriesSamples.With(prometheus.Labels{"device": device}).Set(float64(count))
}

// RecordUnparseableTimestamp counts a sample kept with an invalid timestamp
func RecordUnparseableTimestamp(device string) {
	unparseableTimestampsTotal.With(prometheus.Labels{"device": device}).Inc()
}

// RecordAlert records a published alert, or a failed publish when err is non-nil
func RecordAlert(severity, sink string, err error) {
	if err != nil {
		alertPublishErrorsTotal.With(prometheus.Labels{"sink": sink}).Inc()
		return
	}
	alertsPublishedTotal.With(prometheus.Labels{"severity": severity, "sink": sink}).Inc()
}

// RecordWebSocketConnection records WebSocket connection metrics
func RecordWebSocketConnection() {
	websocketConnectionsTotal.Inc()
	websocketConnectionsActive.Inc()
}

// RecordWebSocketDisconnection records WebSocket disconnection metrics
func RecordWebSocketDisconnection() {
	websocketConnectionsActive.Dec()
}

// RecordCacheLookup records a payload cache hit or miss
func RecordCacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.With(prometheus.Labels{"backend": backend, "result": result}).Inc()
}
