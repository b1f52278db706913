package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/streams"
)

// PipelineMetrics covers change-feed ingestion and the normalized stream views.
type PipelineMetrics struct {
	FeedEventsTotal  *prometheus.CounterVec // decoded events by table and change kind
	FeedDroppedTotal *prometheus.CounterVec // rejected payloads by table and reason
	StreamViewSize   *prometheus.GaugeVec   // entities in each exposed view

	registry *prometheus.Registry
}

var (
	_ feed.Observer    = (*PipelineMetrics)(nil)
	_ streams.Observer = (*PipelineMetrics)(nil)
)

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Total number of change-feed events decoded, by table and change kind",
		},
		[]string{"table", "kind"}, // kind: insert, update, delete
	)

	m.FeedDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_dropped_total",
			Help: "Total number of change-feed payloads dropped, by table and reason",
		},
		[]string{"table", "reason"},
	)

	m.StreamViewSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_view_entities",
			Help: "Number of entities currently in each stream view",
		},
		[]string{"stream"},
	)
}

// EventReceived counts a decoded event.
func (m *PipelineMetrics) EventReceived(table feed.Table, kind feed.ChangeKind) {
	m.FeedEventsTotal.WithLabelValues(string(table), string(kind)).Inc()
}

// EventDropped counts a rejected payload.
func (m *PipelineMetrics) EventDropped(table, reason string) {
	if table == "" {
		table = "unknown"
	}
	m.FeedDroppedTotal.WithLabelValues(table, reason).Inc()
}

// ViewSize records the size of a stream view after a change.
func (m *PipelineMetrics) ViewSize(stream string, size int) {
	m.StreamViewSize.WithLabelValues(stream).Set(float64(size))
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FeedEventsTotal.Collect(ch)
	m.FeedDroppedTotal.Collect(ch)
	m.StreamViewSize.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FeedEventsTotal.Describe(ch)
	m.FeedDroppedTotal.Describe(ch)
	m.StreamViewSize.Describe(ch)
}
