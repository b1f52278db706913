package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/notification"
)

// NotificationMetrics contains all Prometheus metrics related to dispatch
// decisions and push provider deliveries.
type NotificationMetrics struct {
	// Dispatcher metrics
	DispatchDecisionsTotal *prometheus.CounterVec // Decisions by table, event type and outcome
	PushSkippedTotal       *prometheus.CounterVec // Pushes not sent by gate reason
	DispatchQueueDepth     prometheus.Gauge       // Events and tasks waiting in the dispatcher

	// Provider delivery metrics
	ProviderDeliveriesTotal  *prometheus.CounterVec   // Deliveries by provider, priority, status
	ProviderDeliveryDuration *prometheus.HistogramVec // Latency including retries, by provider

	// In-app store
	PersistFailuresTotal *prometheus.CounterVec // Records lost after retries, by event type

	registry *prometheus.Registry
}

var _ notification.Recorder = (*NotificationMetrics)(nil)

// NewNotificationMetrics creates a new instance of NotificationMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for NotificationMetrics.
func (m *NotificationMetrics) initMetrics() {
	m.DispatchDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_decisions_total",
			Help: "Total number of dispatch decisions by table, event type and outcome",
		},
		[]string{"table", "event_type", "outcome"}, // outcome: self, duplicate, out_of_range, muted, in_app, pushed
	)

	m.PushSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_push_skipped_total",
			Help: "Total number of pushes withheld by the push gate, by reason",
		},
		[]string{"reason"},
	)

	m.DispatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_dispatch_queue_depth",
		Help: "Number of events and side-effect tasks waiting in the dispatcher",
	})

	m.ProviderDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_deliveries_total",
			Help: "Total number of push deliveries by provider, notification priority, and status",
		},
		[]string{"provider", "priority", "status"}, // status: success, error
	)

	m.ProviderDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_delivery_duration_seconds",
			Help:    "Time taken for push delivery including retries, by provider",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0}, // 10ms to 60s
		},
		[]string{"provider"},
	)

	m.PersistFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_persist_failures_total",
			Help: "Total number of in-app records that could not be stored, by event type",
		},
		[]string{"event_type"},
	)
}

// DispatchDecided records one dispatcher decision.
func (m *NotificationMetrics) DispatchDecided(ev feed.Event, d notification.Decision) {
	eventType := "none"
	if d.Intent != nil {
		eventType = d.Intent.EventType
	}
	m.DispatchDecisionsTotal.WithLabelValues(string(ev.Table), eventType, string(d.Outcome)).Inc()
	if d.PushSkipped != "" {
		m.PushSkippedTotal.WithLabelValues(d.PushSkipped).Inc()
	}
}

// PushSent records a finished delivery through one provider.
func (m *NotificationMetrics) PushSent(provider string, priority notification.Priority, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderDeliveriesTotal.WithLabelValues(provider, string(priority), status).Inc()
	m.ProviderDeliveryDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// PersistFailed counts an in-app record given up on.
func (m *NotificationMetrics) PersistFailed(eventType string) {
	m.PersistFailuresTotal.WithLabelValues(eventType).Inc()
}

// QueueDepth sets the number of events and tasks queued in the dispatcher.
func (m *NotificationMetrics) QueueDepth(depth int) {
	m.DispatchQueueDepth.Set(float64(depth))
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DispatchDecisionsTotal.Collect(ch)
	m.PushSkippedTotal.Collect(ch)
	m.DispatchQueueDepth.Collect(ch)
	m.ProviderDeliveriesTotal.Collect(ch)
	m.ProviderDeliveryDuration.Collect(ch)
	m.PersistFailuresTotal.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DispatchDecisionsTotal.Describe(ch)
	m.PushSkippedTotal.Describe(ch)
	m.DispatchQueueDepth.Describe(ch)
	m.ProviderDeliveriesTotal.Describe(ch)
	m.ProviderDeliveryDuration.Describe(ch)
	m.PersistFailuresTotal.Describe(ch)
}
