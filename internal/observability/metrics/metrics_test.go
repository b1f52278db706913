package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/notification"
)

func TestNotificationMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ev := feed.Event{Table: feed.TableIncidents}
	m.DispatchDecided(ev, notification.Decision{
		Outcome:     notification.OutcomeInApp,
		Intent:      &notification.Intent{EventType: notification.EventIncidentCreated},
		PushSkipped: "throttled",
	})
	m.DispatchDecided(ev, notification.Decision{Outcome: notification.OutcomeUnclassified})

	assert.InDelta(t, 1, testutil.ToFloat64(m.DispatchDecisionsTotal.WithLabelValues("incidents", "incident_created", "in_app")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DispatchDecisionsTotal.WithLabelValues("incidents", "none", "unclassified")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PushSkippedTotal.WithLabelValues("throttled")), 0)

	m.PushSent("gateway", notification.PriorityCritical, nil, 120*time.Millisecond)
	m.PushSent("gateway", notification.PriorityCritical, errors.New("boom"), time.Second)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderDeliveriesTotal.WithLabelValues("gateway", "critical", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderDeliveriesTotal.WithLabelValues("gateway", "critical", "error")), 0)

	m.PersistFailed("panic_created")
	m.QueueDepth(7)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PersistFailuresTotal.WithLabelValues("panic_created")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.DispatchQueueDepth), 0)
}

func TestPipelineMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewPipelineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.EventReceived(feed.TablePresence, feed.Update)
	m.EventDropped("", "malformed")
	m.ViewSize("presence", 3)
	m.ViewSize("presence", 2)

	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedEventsTotal.WithLabelValues("user_presence", "update")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedDroppedTotal.WithLabelValues("unknown", "malformed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.StreamViewSize.WithLabelValues("presence")), 0)
}

func TestMQTTMetricsCountsLostConnections(t *testing.T) {
	t.Parallel()
	m, err := NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.MQTTConnected(false) // initial connect failure is not a lost connection
	m.MQTTConnected(true)
	m.MQTTConnected(false)
	m.MQTTMessage("safetynet/changes/incidents")

	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionsLost), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("safetynet/changes/incidents")), 0)
}

func TestHTTPClientHook(t *testing.T) {
	t.Parallel()
	m, err := NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	hook := m.ClientHook("restfeed")
	req, err := http.NewRequest(http.MethodGet, "https://db.example.test/rest/v1/incidents", http.NoBody)
	require.NoError(t, err)
	hook(req, &http.Response{StatusCode: http.StatusOK}, 10*time.Millisecond, nil)
	hook(req, nil, time.Second, errors.New("timeout"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.clientRequestsTotal.WithLabelValues("restfeed", "GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.clientRequestsTotal.WithLabelValues("restfeed", "GET", "error")), 0)

	m.SSEConnected()
	m.SSEConnected()
	m.SSEDisconnected()
	assert.InDelta(t, 1, testutil.ToFloat64(m.sseActiveConnections), 0)
	assert.InDelta(t, 1, m.ActiveSSEConnections(), 0)
}
