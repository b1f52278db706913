package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/feed"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// without causing race conditions or duplicate registration errors.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.MQTT == nil || m.Pipeline == nil || m.Notification == nil || m.HTTP == nil {
				t.Error("metrics collector is nil")
			}
		})
	}
	wg.Wait()
}

func TestHandlerServesPipelineMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.EventReceived(feed.TablePanicAlerts, feed.Insert)
	m.MQTT.MQTTConnected(true)

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `feed_events_total{kind="insert",table="panic_alerts"} 1`), text)
	assert.Contains(t, text, "mqtt_connection_status 1")
	assert.Contains(t, text, "go_goroutines")
}

func TestRegisterDatastore(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	store, err := datastore.Open(datastore.Config{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "metrics.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, m.RegisterDatastore(store))
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "go_sql_open_connections" {
			found = true
		}
	}
	assert.True(t, found, "pool statistics are exported")
}
