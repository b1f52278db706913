package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/mqtt"
)

const changeTopic = "safetynet/changes/+"

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeBroker) handler(topic string) (mqtt.MessageHandler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handlers[topic]
	return h, ok
}

// emptyFetcher seeds every view with no rows.
type emptyFetcher struct{}

func (emptyFetcher) Fetch(context.Context, feed.Table, feed.Filter) ([]feed.Record, error) {
	return nil, nil
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.User.ID = "U1"
	s.User.Timezone = "UTC"
	s.Feed.MQTT.TopicPrefix = "safetynet/changes"
	s.Database.Type = "sqlite"
	s.Database.SQLite.Path = filepath.Join(t.TempDir(), "safetynet.db")
	s.Notification.DedupCooldown = conf.DefaultDedupCooldown
	s.Notification.PushThrottle = conf.DefaultPushThrottle
	s.Notification.GeoRadius = conf.DefaultGeoRadius
	s.Notification.QueueSize = 16
	s.Notification.Workers = 2
	s.API.Enabled = true
	s.API.Listen = "127.0.0.1:0"
	return s
}

type running struct {
	app    *App
	broker *fakeBroker
	cancel context.CancelFunc
	done   chan error
	base   string
}

func start(t *testing.T, s *conf.Settings, opts ...Option) *running {
	t.Helper()

	broker := newFakeBroker()
	opts = append(opts, WithMQTTClient(broker), WithFetcher(emptyFetcher{}))
	a, err := New(s, opts...)
	require.NoError(t, err)

	r := &running{app: a, broker: broker, done: make(chan error, 1)}
	if a.Server() != nil {
		addr, err := a.Server().Listen()
		require.NoError(t, err)
		r.base = "http://" + addr.String()
	}

	ctx, cancel := context.WithCancel(t.Context())
	r.cancel = cancel
	go func() { r.done <- a.Run(ctx) }()

	require.Eventually(t, broker.IsConnected, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		r.stop(t)
		a.Close()
	})
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func (r *running) deliver(t *testing.T, table, payload string) {
	t.Helper()
	h, ok := r.broker.handler(changeTopic)
	require.True(t, ok, "change topic not subscribed")
	h("safetynet/changes/"+table, []byte(payload))
}

func (r *running) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	resp, err := http.Get(r.base + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, out))
}

const panicInsert = `{"type":"INSERT","table":"panic_alerts","record":{"id":"P1","user_id":"U2",` +
	`"status":"active","latitude":60.17,"longitude":24.94,"created_at":"2026-01-01T10:00:00Z"}}`

func TestPanicReachesInAppAndViews(t *testing.T) {
	r := start(t, testSettings(t))
	store := r.app.Store()

	r.deliver(t, "panic_alerts", panicInsert)

	var list []datastore.Notification
	require.Eventually(t, func() bool {
		var err error
		list, err = store.ListNotifications(t.Context(), "U1", datastore.ListOptions{})
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "panic:P1:panic_created", list[0].DedupKey)
	assert.Equal(t, "critical", list[0].Priority)

	// Redelivery within the cooldown is deduplicated.
	r.deliver(t, "panic_alerts", panicInsert)

	var view struct {
		Seeded bool `json:"seeded"`
		Items  []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	require.Eventually(t, func() bool {
		r.getJSON(t, "/api/v1/streams/panic", &view)
		return view.Seeded && len(view.Items) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "P1", view.Items[0].ID)

	var unread struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	r.getJSON(t, "/api/v1/notifications", &unread)
	assert.EqualValues(t, 1, unread.UnreadCount)

	r.stop(t)
	list, err := store.ListNotifications(context.Background(), "U1", datastore.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "the duplicate was not persisted")
}

func TestOwnEventsDoNotNotify(t *testing.T) {
	r := start(t, testSettings(t))

	r.deliver(t, "panic_alerts", `{"type":"INSERT","table":"panic_alerts","record":{"id":"P2","user_id":"U1",`+
		`"status":"active","latitude":60.17,"longitude":24.94,"created_at":"2026-01-01T10:00:00Z"}}`)
	r.deliver(t, "panic_alerts", panicInsert)

	require.Eventually(t, func() bool {
		list, err := r.app.Store().ListNotifications(t.Context(), "U1", datastore.ListOptions{})
		return err == nil && len(list) == 1 && list[0].EntityID == "P1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetentionPurgesExpiredNotifications(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(now)

	s := testSettings(t)
	s.API.Enabled = false
	s.Notification.Retention = 24 * time.Hour

	broker := newFakeBroker()
	a, err := New(s, WithMQTTClient(broker), WithFetcher(emptyFetcher{}), WithClock(clk))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Server())

	store := a.Store()
	for id, age := range map[string]time.Duration{"old": 48 * time.Hour, "fresh": time.Hour} {
		require.NoError(t, store.InsertNotification(t.Context(), &datastore.Notification{
			ID:        id,
			UserID:    "U1",
			Type:      "panic",
			Priority:  "critical",
			CreatedAt: now.Add(-age),
		}))
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		list, err := store.ListNotifications(t.Context(), "U1", datastore.ListOptions{})
		return err == nil && len(list) == 1 && list[0].ID == "fresh"
	}, 2*time.Second, 10*time.Millisecond)

	// The next sweep sees the fresh record expired.
	require.NoError(t, clk.WaitAdvance(24*time.Hour+retentionInterval, time.Second, 1))

	require.Eventually(t, func() bool {
		list, err := store.ListNotifications(t.Context(), "U1", datastore.ListOptions{})
		return err == nil && len(list) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	s := testSettings(t)
	s.User.Timezone = "Nowhere/Atlantis"
	_, err = New(s, WithMQTTClient(newFakeBroker()), WithFetcher(emptyFetcher{}))
	require.Error(t, err)

	s = testSettings(t)
	s.Database.Type = "oracle"
	_, err = New(s, WithMQTTClient(newFakeBroker()), WithFetcher(emptyFetcher{}))
	require.Error(t, err)
}
