// Package metrics provides Prometheus metrics for the camera relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request and connect latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamConnectDuration *prometheus.HistogramVec
	UpstreamResults         *prometheus.CounterVec
	ActiveStreams           prometheus.Gauge
	RelayedBytes            *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camera_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds. Streams are observed when they end.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camera_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamConnectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camera_relay_upstream_connect_duration_seconds",
			Help:    "Time until the camera response head arrived, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"purpose"}),

		UpstreamResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_relay_upstream_results_total",
			Help: "Camera connection attempts by purpose and outcome.",
		}, []string{"purpose", "outcome"}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camera_relay_active_streams",
			Help: "Number of live streams currently being relayed.",
		}),

		RelayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_relay_relayed_bytes_total",
			Help: "Bytes copied from cameras to clients.",
		}, []string{"purpose"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamConnectDuration,
		m.UpstreamResults,
		m.ActiveStreams,
		m.RelayedBytes,
	)

	return m
}

// Upstream outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeUnreachable = "unreachable"
	OutcomeCanceled    = "canceled"
)

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{
	"/api/ai/proxy-stream",
	"/api/ai/proxy-snapshot",
	"/healthz",
	"/proxy/status",
	"/metrics",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
