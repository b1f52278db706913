package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/settings"
)

func tags(msgs []PushMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Tag)
	}
	return out
}

func TestPanicScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locate(home)

	d := h.send(panicCreated("P1", other, nearby))
	assert.Equal(t, OutcomePushed, d.Outcome)
	require.NotNil(t, d.Intent)
	assert.Equal(t, PriorityCritical, d.Intent.Priority)

	// A movement update two seconds later.
	h.advance(2 * time.Second)
	moved := nearby
	moved.Lat += 0.001
	d = h.send(panicUpdated("P1", other, feed.StatusActive, feed.StatusActive, moved))
	assert.Equal(t, OutcomeUnclassified, d.Outcome)

	d = h.send(feed.Event{
		Table:    feed.TablePanicLocationLogs,
		EntityID: "log-1",
		Kind:     feed.Insert,
		After:    &feed.LocationLogRow{ID: "log-1", AlertID: "P1", UserID: other, Lat: moved.Lat, Lng: moved.Lng, RecordedAt: t0.Add(2 * time.Second)},
	})
	assert.Equal(t, OutcomeUnclassified, d.Outcome)

	h.stop()

	records := h.store.all()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, observer, rec.UserID)
	assert.Equal(t, string(PriorityCritical), rec.Priority)
	assert.Equal(t, "/panic/P1", rec.Data.URL)
	assert.Equal(t, RelatedPanic, rec.Data.RelatedType)
	assert.Equal(t, "P1", rec.Data.RelatedID)
	require.NotNil(t, rec.Data.Lat)
	assert.InDelta(t, nearby.Lat, *rec.Data.Lat, 1e-9)
	assert.Equal(t, "panic:P1:panic_created", rec.DedupKey)
	assert.False(t, rec.Read)

	pushes := h.push.messages()
	require.Len(t, pushes, 1)
	assert.Equal(t, "panic:P1:panic_created", pushes[0].Tag)
	assert.Equal(t, PriorityCritical, pushes[0].Priority)
	assert.Equal(t, "/panic/P1", pushes[0].Data["url"])
}

func TestIncidentOutsideRadiusIsNotNotified(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locate(home)

	d := h.send(incidentCreated("I1", other, "fire", far))
	assert.Equal(t, OutcomeOutOfRange, d.Outcome)

	h.stop()
	assert.Empty(t, h.store.all())
	assert.Empty(t, h.push.messages())
}

func TestGeoFilterFailsOpenWithoutLocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	d := h.send(incidentCreated("I1", other, "fire", far))
	assert.Equal(t, OutcomePushed, d.Outcome)

	h.stop()
	assert.Len(t, h.store.all(), 1)
}

func TestAmberAlertIgnoresRadius(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locate(home)

	d := h.send(incidentCreated("A1", other, feed.IncidentTypeAmber, far))
	assert.Equal(t, OutcomePushed, d.Outcome)
	assert.Equal(t, EventAmberCreated, d.Intent.EventType)

	h.stop()
	records := h.store.all()
	require.Len(t, records, 1)
	assert.Equal(t, feed.IncidentTypeAmber, records[0].Type)
}

func TestDedupWithinCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locate(home)

	ev := incidentCreated("I1", other, "fire", nearby)
	assert.Equal(t, OutcomePushed, h.send(ev).Outcome)

	// Redelivery by the at-least-once feed.
	h.advance(time.Minute)
	assert.Equal(t, OutcomeDuplicate, h.send(ev).Outcome)

	h.advance(4*time.Minute - time.Second)
	assert.Equal(t, OutcomeDuplicate, h.send(ev).Outcome)

	// Cooldown over: the same key may notify again.
	h.advance(time.Second)
	assert.Equal(t, OutcomePushed, h.send(ev).Outcome)

	h.stop()
	assert.Len(t, h.store.all(), 2)
	assert.Len(t, h.push.messages(), 2)
}

func TestDedupIsArmedBeforeFilters(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locate(home)

	ev := incidentCreated("I1", other, "fire", far)
	assert.Equal(t, OutcomeOutOfRange, h.send(ev).Outcome)

	// Location lost: the key is still inside its cooldown.
	h.geo.Clear()
	assert.Equal(t, OutcomeDuplicate, h.send(ev).Outcome)
}

func TestStatusTransitionsDedupPerStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	handling := incidentStatus("I1", other, "", feed.StatusActive, feed.StatusHandling, nearby)
	d := h.send(handling)
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, PriorityImportant, d.Intent.Priority)
	assert.Equal(t, "incident:I1:incident_status_handling", d.Intent.DedupKey())

	assert.Equal(t, OutcomeDuplicate, h.send(handling).Outcome)

	resolved := incidentStatus("I1", other, "", feed.StatusHandling, feed.StatusResolved, nearby)
	d = h.send(resolved)
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, PriorityInfo, d.Intent.Priority)

	h.stop()
	assert.Len(t, h.store.all(), 2)
	assert.Empty(t, h.push.messages(), "status transitions are in-app only")
}

func TestRepeatedStatusWithoutOldRowNotifiesOnce(t *testing.T) {
	t.Parallel()

	pkOnly := func(ev feed.Event) feed.Event {
		switch ev.After.(type) {
		case *feed.IncidentRow:
			ev.Before = &feed.IncidentRow{ID: ev.EntityID}
		case *feed.PanicAlertRow:
			ev.Before = &feed.PanicAlertRow{ID: ev.EntityID}
		case *feed.LookAfterMeRow:
			ev.Before = &feed.LookAfterMeRow{ID: ev.EntityID}
		}
		return ev
	}

	tests := []struct {
		name string
		ev   feed.Event
	}{
		{"incident handling", incidentStatus("I1", other, "", "", feed.StatusHandling, nearby)},
		{"incident handling primary key only", pkOnly(incidentStatus("I1", other, "", "", feed.StatusHandling, nearby))},
		{"panic ended", panicUpdated("P1", other, "", feed.StatusEnded, nearby)},
		{"panic ended primary key only", pkOnly(panicUpdated("P1", other, "", feed.StatusEnded, nearby))},
		{"session arrived", lookAfterMe(feed.Update, "L1", other, "", feed.StatusArrived, observer)},
		{"session arrived primary key only", pkOnly(lookAfterMe(feed.Update, "L1", other, "", feed.StatusArrived, observer))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			assert.NotEqual(t, OutcomeUnclassified, h.send(tt.ev).Outcome)
			for range 2 {
				h.advance(6 * time.Minute)
				assert.Equal(t, OutcomeUnclassified, h.send(tt.ev).Outcome)
			}

			h.stop()
			assert.Len(t, h.store.all(), 1)
		})
	}
}

func TestRememberedStatusStillSeesTransitions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(incidentCreated("I1", other, "fire", nearby))
	assert.Equal(t, OutcomeUnclassified, h.send(incidentStatus("I1", other, "", "", feed.StatusActive, nearby)).Outcome)

	d := h.send(incidentStatus("I1", other, "", "", feed.StatusHandling, nearby))
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, "incident:I1:incident_status_handling", d.Intent.DedupKey())

	d = h.send(incidentStatus("I1", other, "", "", feed.StatusResolved, nearby))
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, "incident:I1:incident_status_resolved", d.Intent.DedupKey())

	// The session is forgotten once deleted, so a recreated id starts fresh.
	h.send(feed.Event{Table: feed.TableIncidents, EntityID: "I1", Kind: feed.Delete,
		Before: &feed.IncidentRow{ID: "I1", UserID: other, Status: feed.StatusResolved}})
	h.advance(6 * time.Minute)
	assert.Equal(t, OutcomeInApp, h.send(incidentStatus("I1", other, "", "", feed.StatusResolved, nearby)).Outcome)
}

func TestRememberedStatusIgnoresSelfAuthorship(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// The observer's own edit is not notified but still updates what was seen.
	assert.Equal(t, OutcomeSelf, h.send(incidentStatus("I1", other, observer, "", feed.StatusHandling, nearby)).Outcome)
	assert.Equal(t, OutcomeUnclassified, h.send(incidentStatus("I1", other, "", "", feed.StatusHandling, nearby)).Outcome)
}

func TestPushThrottle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locate(home)

	assert.Equal(t, OutcomePushed, h.send(incidentCreated("I1", other, "fire", nearby)).Outcome)

	h.advance(10 * time.Second)
	d := h.send(incidentCreated("I2", other, "fire", nearby))
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, skipThrottled, d.PushSkipped)

	h.advance(20 * time.Second)
	assert.Equal(t, OutcomePushed, h.send(incidentCreated("I3", other, "fire", nearby)).Outcome)

	// Critical bypasses the throttle one second later.
	h.advance(time.Second)
	assert.Equal(t, OutcomePushed, h.send(panicCreated("P1", other, nearby)).Outcome)

	// And it moves the throttle like any other push.
	h.advance(time.Second)
	d = h.send(incidentCreated("I4", other, "fire", nearby))
	assert.Equal(t, skipThrottled, d.PushSkipped)

	h.stop()
	assert.ElementsMatch(t, []string{
		"incident:I1:incident_created",
		"incident:I3:incident_created",
		"panic:P1:panic_created",
	}, tags(h.push.messages()))
	assert.Len(t, h.store.all(), 5, "throttled events still reach the in-app store")
}

func TestCriticalPushesAreNeverThrottled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, id := range []string{"P1", "P2", "P3"} {
		assert.Equal(t, OutcomePushed, h.send(panicCreated(id, other, nearby)).Outcome)
		h.advance(100 * time.Millisecond)
	}

	h.stop()
	assert.Len(t, h.push.messages(), 3)
}

func TestFailedPushKeepsThrottle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.push.err = errors.New("gateway down")

	assert.Equal(t, OutcomePushed, h.send(incidentCreated("I1", other, "fire", nearby)).Outcome)
	h.advance(5 * time.Second)
	d := h.send(incidentCreated("I2", other, "fire", nearby))
	assert.Equal(t, skipThrottled, d.PushSkipped)
}

func TestPushGateClientState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.d.Client().SetPushPermission(false)
	d := h.send(incidentCreated("I1", other, "fire", nearby))
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, skipPermission, d.PushSkipped)

	h.d.Client().SetPushPermission(true)
	h.d.Client().SetForeground(true)
	d = h.send(incidentCreated("I2", other, "fire", nearby))
	assert.Equal(t, skipForeground, d.PushSkipped)

	// Skipped pushes leave the throttle untouched.
	h.d.Client().SetForeground(false)
	assert.Equal(t, OutcomePushed, h.send(incidentCreated("I3", other, "fire", nearby)).Outcome)

	h.stop()
	assert.Len(t, h.store.all(), 3)
	assert.Equal(t, []string{"incident:I3:incident_created"}, tags(h.push.messages()))
}

func TestNoProvidersMeansInAppOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Push = nil })

	d := h.send(panicCreated("P1", other, nearby))
	assert.Equal(t, OutcomeInApp, d.Outcome)
	assert.Equal(t, skipNoProviders, d.PushSkipped)

	h.stop()
	assert.Len(t, h.store.all(), 1)
}

func TestSelfEventsAreSuppressed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   feed.Event
	}{
		{"panic created", panicCreated("P1", observer, nearby)},
		{"panic ended", panicUpdated("P1", observer, feed.StatusActive, feed.StatusEnded, nearby)},
		{"incident created", incidentCreated("I1", observer, "fire", nearby)},
		{"amber created", incidentCreated("A1", observer, feed.IncidentTypeAmber, nearby)},
		{"incident status by self", incidentStatus("I1", other, observer, feed.StatusActive, feed.StatusResolved, nearby)},
		{"look after me started", lookAfterMe(feed.Insert, "L1", observer, "", feed.StatusActive, observer)},
		{"look after me arrived", lookAfterMe(feed.Update, "L1", observer, feed.StatusActive, feed.StatusArrived, observer)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			assert.Equal(t, OutcomeSelf, h.send(tt.ev).Outcome)
			h.stop()
			assert.Empty(t, h.store.all())
			assert.Empty(t, h.push.messages())
		})
	}
}

func TestSettingsGate(t *testing.T) {
	t.Parallel()

	t.Run("push disabled mutes non-critical", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		s := settings.Defaults()
		s.PushEnabled = false
		require.NoError(t, h.gate.Update(context.Background(), s))

		assert.Equal(t, OutcomeMuted, h.send(incidentCreated("I1", other, "fire", nearby)).Outcome)
		assert.Equal(t, OutcomePushed, h.send(panicCreated("P1", other, nearby)).Outcome, "panic override")

		h.stop()
		assert.Len(t, h.store.all(), 1)
	})

	t.Run("quiet hours", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		s := settings.Defaults()
		s.QuietHours = settings.QuietHours{Enabled: true, Start: "11:00", End: "13:00"}
		require.NoError(t, h.gate.Update(context.Background(), s))

		assert.Equal(t, OutcomeMuted, h.send(incidentCreated("I1", other, "fire", nearby)).Outcome)
		assert.Equal(t, OutcomePushed, h.send(panicCreated("P1", other, nearby)).Outcome)

		s.PanicOverride = false
		require.NoError(t, h.gate.Update(context.Background(), s))
		assert.Equal(t, OutcomeMuted, h.send(panicCreated("P2", other, nearby)).Outcome)
	})
}

func TestFeedbackAndNotificationCues(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cues, _, cancel := h.d.Cues().Subscribe()
	defer cancel()

	h.send(panicCreated("P1", other, nearby))
	h.send(lookAfterMe(feed.Insert, "L1", other, "", feed.StatusActive, observer))
	h.stop()

	var got []Cue
	for len(cues) > 0 {
		got = append(got, <-cues)
	}

	var feedback, notifications []Cue
	for _, c := range got {
		switch c.Kind {
		case CueFeedback:
			feedback = append(feedback, c)
		case CueNotification:
			notifications = append(notifications, c)
		}
	}

	require.Len(t, feedback, 1, "info notifications carry no feedback")
	assert.Equal(t, FeedbackEmergency, feedback[0].Pattern)
	assert.True(t, feedback[0].Sound)
	assert.True(t, feedback[0].Vibrate)
	assert.Equal(t, "panic:P1:panic_created", feedback[0].DedupKey)

	require.Len(t, notifications, 2)
	for _, c := range notifications {
		require.NotNil(t, c.Notification)
		assert.Equal(t, c.DedupKey, c.Notification.DedupKey)
	}
}

func TestFeedbackHonoursSoundAndVibration(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := settings.Defaults()
	s.SoundEnabled = false
	require.NoError(t, h.gate.Update(context.Background(), s))

	cues, _, cancel := h.d.Cues().Subscribe()
	defer cancel()

	h.send(incidentCreated("I1", other, "fire", nearby))
	h.stop()

	var feedback *Cue
	for len(cues) > 0 {
		c := <-cues
		if c.Kind == CueFeedback {
			feedback = &c
		}
	}
	require.NotNil(t, feedback)
	assert.Equal(t, FeedbackStandard, feedback.Pattern)
	assert.False(t, feedback.Sound)
	assert.True(t, feedback.Vibrate)
}

func TestDedupHydratedFromHistory(t *testing.T) {
	t.Parallel()
	store := &memStore{recent: []datastore.DispatchRecord{
		{DedupKey: "incident:I1:incident_created", CreatedAt: t0.Add(-time.Minute)},
		{DedupKey: "incident:I2:incident_created", CreatedAt: t0.Add(-6 * time.Minute)},
	}}
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Store = store })

	assert.Equal(t, OutcomeDuplicate, h.send(incidentCreated("I1", other, "fire", nearby)).Outcome)
	assert.Equal(t, OutcomePushed, h.send(incidentCreated("I2", other, "fire", nearby)).Outcome)

	h.advance(4 * time.Minute)
	assert.Equal(t, OutcomePushed, h.send(incidentCreated("I1", other, "fire", nearby)).Outcome)
}

func TestPersistRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	store := &memStore{failFirst: 2}
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Store = store })

	h.send(panicCreated("P1", other, nearby))
	h.stop()

	assert.Len(t, store.all(), 1)
	assert.Equal(t, 3, store.attempts)
}

func TestPersistFailureIsRecorded(t *testing.T) {
	t.Parallel()
	store := &memStore{failFirst: 10}
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Store = store })

	d := h.send(panicCreated("P1", other, nearby))
	assert.Equal(t, OutcomePushed, d.Outcome, "push does not wait for the in-app write")
	h.stop()

	assert.Empty(t, store.all())
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, 1, h.rec.persistFailure)
}

func TestPersistRetryAfterLostReplyKeepsOneRecord(t *testing.T) {
	t.Parallel()
	store := &memStore{lostReplies: 1}
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Store = store })

	h.send(panicCreated("P1", other, nearby))
	h.stop()

	assert.Len(t, store.all(), 1)
	assert.Equal(t, 2, store.attempts)
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Zero(t, h.rec.persistFailure)
}

func TestQueueDepthCountsPendingTasks(t *testing.T) {
	t.Parallel()
	store := &memStore{hold: make(chan struct{})}
	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.Store = store })

	// Both workers park on the store, so later writes wait in the task queue.
	for _, id := range []string{"I1", "I2", "I3", "I4"} {
		h.send(incidentCreated(id, other, "fire", nearby))
	}
	assert.Eventually(t, func() bool { return h.rec.maxDepth() > 0 },
		5*time.Second, 10*time.Millisecond)

	close(store.hold)
	h.stop()
	assert.Len(t, store.all(), 4)
}

func TestDispatcherLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// A decision proves the harness goroutine owns Run.
	h.send(panicCreated("P1", other, nearby))

	err := h.d.Run(context.Background())
	require.Error(t, err, "second Run must fail")

	h.stop()
	require.ErrorIs(t, h.d.OnDomainEvent(context.Background(), panicCreated("P1", other, nearby)), ErrDispatcherStopped)
}

func TestNewDispatcherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(Config{}, Dependencies{Gate: settings.NewGate(nil, observer), Store: &memStore{}})
	require.Error(t, err)

	_, err = NewDispatcher(Config{UserID: observer}, Dependencies{})
	require.Error(t, err)
}
