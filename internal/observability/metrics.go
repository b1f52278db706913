// Package observability assembles the Prometheus metrics of the pipeline and
// serves them. Error telemetry is handled in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	MQTT         *metrics.MQTTMetrics
	Pipeline     *metrics.PipelineMetrics
	Notification *metrics.NotificationMetrics
	HTTP         *metrics.HTTPMetrics
}

// NewMetrics creates a new instance of Metrics on its own registry, so several
// instances can coexist in tests.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		MQTT:         mqttMetrics,
		Pipeline:     pipelineMetrics,
		Notification: notificationMetrics,
		HTTP:         httpMetrics,
	}, nil
}

// RegisterDatastore adds connection pool statistics for store.
func (m *Metrics) RegisterDatastore(store *datastore.Store) error {
	db, err := store.SQLDB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return metrics.RegisterDatastore(m.registry, db, store.Dialect())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler(log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log: log.Module("metrics")},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promLogger adapts the logger to promhttp.Logger.
type promLogger struct {
	log logger.Logger
}

func (p promLogger) Println(v ...any) {
	p.log.Warn(fmt.Sprint(v...))
}
