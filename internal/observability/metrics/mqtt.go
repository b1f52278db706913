// Package metrics provides custom Prometheus metrics for the components of the
// safety-event pipeline.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/safetynet-go/internal/mqtt"
)

// MQTTMetrics contains all Prometheus metrics related to the MQTT feed transport.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	ConnectionsLost   prometheus.Counter
	LastConnectTime   prometheus.Gauge
	registry          *prometheus.Registry
	connectedOnceFlag atomic.Bool
}

var _ mqtt.Observer = (*MQTTMetrics)(nil)

// NewMQTTMetrics creates a new instance of MQTTMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for MQTTMetrics.
func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_received_total",
		Help: "Total number of MQTT messages received by topic",
	}, []string{"topic"})

	m.ConnectionsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_connections_lost_total",
		Help: "Total number of times an established MQTT connection was lost",
	})

	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})
}

// MQTTConnected updates the connection status and last connect time.
func (m *MQTTMetrics) MQTTConnected(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
		m.connectedOnceFlag.Store(true)
		return
	}
	m.ConnectionStatus.Set(0)
	if m.connectedOnceFlag.Load() {
		m.ConnectionsLost.Inc()
	}
}

// MQTTMessage counts a received message. Topics are the fixed change and
// position topics, so the label stays bounded.
func (m *MQTTMetrics) MQTTMessage(topic string) {
	m.MessagesReceived.WithLabelValues(topic).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	m.MessagesReceived.Collect(ch)
	ch <- m.ConnectionsLost
	ch <- m.LastConnectTime
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	m.MessagesReceived.Describe(ch)
	ch <- m.ConnectionsLost.Desc()
	ch <- m.LastConnectTime.Desc()
}
