package mqttfeed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
	"github.com/tphakala/safetynet-go/internal/mqtt"
)

type fakeClient struct {
	mu          sync.Mutex
	handlers    map[string]mqtt.MessageHandler
	connected   bool
	disconnects int
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeClient) deliver(t *testing.T, subscription, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[subscription]
	f.mu.Unlock()
	require.True(t, ok, "no handler for %s", subscription)
	h(topic, []byte(payload))
}

type recordingPublisher struct {
	changes []feed.Change
}

func (r *recordingPublisher) Publish(c feed.Change) {
	r.changes = append(r.changes, c)
}

func TestStartSubscribesAndConnects(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	src := New(client, Config{TopicPrefix: "safetynet/changes/", PositionTopic: "safetynet/position/u1"},
		&recordingPublisher{}, geo.NewContext(), nil)

	require.NoError(t, src.Start(t.Context()))
	assert.True(t, client.IsConnected())
	assert.Contains(t, client.handlers, "safetynet/changes/+")
	assert.Contains(t, client.handlers, "safetynet/position/u1")

	src.Stop()
	assert.Equal(t, 1, client.disconnects)
}

func TestPositionFeedIsOptional(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	src := New(client, Config{TopicPrefix: "p", PositionTopic: "pos"}, &recordingPublisher{}, nil, nil)
	require.NoError(t, src.Start(t.Context()))
	assert.Len(t, client.handlers, 1)
}

func TestChangeMessagesReachPublisher(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	pub := &recordingPublisher{}
	src := New(client, Config{TopicPrefix: "safetynet/changes"}, pub, nil, nil)
	require.NoError(t, src.Start(t.Context()))

	client.deliver(t, src.ChangeTopic(), "safetynet/changes/incidents",
		`{"type":"INSERT","table":"incidents","record":{"id":"i1"}}`)
	// Envelopes without a table take it from the topic.
	client.deliver(t, src.ChangeTopic(), "safetynet/changes/messages",
		`{"type":"INSERT","record":{"id":"m1"}}`)
	client.deliver(t, src.ChangeTopic(), "safetynet/changes/messages", `not json`)

	require.Len(t, pub.changes, 2)
	assert.Equal(t, "incidents", pub.changes[0].Table)
	assert.Equal(t, "messages", pub.changes[1].Table)
	assert.Equal(t, uint64(1), src.Undecodable())
}

func TestPositionSamplesUpdateGeoContext(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	gc := geo.NewContext()
	src := New(client, Config{TopicPrefix: "c", PositionTopic: "pos"}, &recordingPublisher{}, gc, nil)
	require.NoError(t, src.Start(t.Context()))

	client.deliver(t, "pos", "pos", `{"lat":60.17,"lng":24.94,"accuracy":12,"timestamp":"2026-01-01T10:00:00Z"}`)
	client.deliver(t, "pos", "pos", `{"lat":95,"lng":24.94,"timestamp":"2026-01-01T10:01:00Z"}`)
	client.deliver(t, "pos", "pos", `garbage`)

	here, ok := gc.CurrentLocation()
	require.True(t, ok)
	assert.InDelta(t, 60.17, here.Lat, 1e-9)
	assert.InDelta(t, 24.94, here.Lng, 1e-9)
}
