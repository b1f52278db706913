package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HTTPMetrics contains Prometheus metrics for the API server, its live cue
// stream and the outbound REST clients.
type HTTPMetrics struct {
	registry *prometheus.Registry

	// API request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// SSE (Server-Sent Events) metrics
	sseActiveConnections prometheus.Gauge
	sseMessagesSent      *prometheus.CounterVec

	// Outbound client metrics
	clientRequestsTotal   *prometheus.CounterVec
	clientRequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers new HTTP metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route template, not the raw URL
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.sseActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_active_connections",
		Help: "Number of connected live cue subscribers",
	})

	m.sseMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sse_messages_sent_total",
			Help: "Total number of live cues written to subscribers, by cue kind",
		},
		[]string{"kind"},
	)

	m.clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_requests_total",
			Help: "Total number of outbound HTTP requests by client and result",
		},
		[]string{"client", "method", "result"}, // result: status code or "error"
	)

	m.clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "Time taken for outbound HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"client"},
	)
}

// RecordRequest records one served API request.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SSEConnected tracks a live cue subscriber joining.
func (m *HTTPMetrics) SSEConnected() { m.sseActiveConnections.Inc() }

// SSEDisconnected tracks a live cue subscriber leaving.
func (m *HTTPMetrics) SSEDisconnected() { m.sseActiveConnections.Dec() }

// ActiveSSEConnections returns the number of connected live cue subscribers.
func (m *HTTPMetrics) ActiveSSEConnections() float64 {
	metric := &dto.Metric{}
	if err := m.sseActiveConnections.Write(metric); err != nil {
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}

// SSEMessageSent counts a cue written to a subscriber.
func (m *HTTPMetrics) SSEMessageSent(kind string) {
	m.sseMessagesSent.WithLabelValues(kind).Inc()
}

// ClientHook returns an after-response hook for an outbound HTTP client.
func (m *HTTPMetrics) ClientHook(client string) func(*http.Request, *http.Response, time.Duration, error) {
	return func(req *http.Request, resp *http.Response, elapsed time.Duration, err error) {
		result := "error"
		if err == nil && resp != nil {
			result = strconv.Itoa(resp.StatusCode)
		}
		m.clientRequestsTotal.WithLabelValues(client, req.Method, result).Inc()
		m.clientRequestDuration.WithLabelValues(client).Observe(elapsed.Seconds())
	}
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
	m.sseActiveConnections.Collect(ch)
	m.sseMessagesSent.Collect(ch)
	m.clientRequestsTotal.Collect(ch)
	m.clientRequestDuration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
	m.sseActiveConnections.Describe(ch)
	m.sseMessagesSent.Describe(ch)
	m.clientRequestsTotal.Describe(ch)
	m.clientRequestDuration.Describe(ch)
}
