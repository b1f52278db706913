package streams

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
)

func incidentRow(id, status, updated string) string {
	return `{"id":"` + id + `","user_id":"reporter","type":"fire","status":"` + status +
		`","title":"Fire","latitude":60.17,"longitude":24.94,"created_at":"2024-03-01T10:00:00Z","updated_at":"` + updated + `"}`
}

func TestSeedThenIncrementalChanges(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	fetcher := newFakeFetcher()
	fetcher.set(feed.TableIncidents,
		decodeRow(t, feed.TableIncidents, incidentRow("i1", "active", "2024-03-01T10:00:00Z")),
		decodeRow(t, feed.TableIncidents, incidentRow("i2", "active", "2024-03-01T10:00:00Z")))

	s := NewIncidentStream(hub, fetcher)
	var rec recorder[IncidentReport]
	s.OnChange(rec.listen)

	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()
	waitSeeded(t, s.Stream)
	require.Len(t, s.CurrentView(), 2)

	publish(hub, "UPDATE", feed.TableIncidents, incidentRow("i1", "handling", "2024-03-01T10:05:00Z"), "")
	publish(hub, "INSERT", feed.TableIncidents, incidentRow("i3", "active", "2024-03-01T10:06:00Z"), "")
	publish(hub, "DELETE", feed.TableIncidents, "", `{"id":"i2"}`)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 5 }, waitFor, 5*time.Millisecond)

	view := s.CurrentView()
	require.Len(t, view, 2)
	assert.Equal(t, "i1", view[0].ID)
	assert.Equal(t, "handling", view[0].Status)
	assert.Equal(t, "i3", view[1].ID)

	kinds := make([]feed.ChangeKind, 0, 5)
	for _, u := range rec.snapshot() {
		kinds = append(kinds, u.Kind)
	}
	assert.Equal(t, []feed.ChangeKind{feed.Insert, feed.Insert, feed.Update, feed.Insert, feed.Delete}, kinds)
}

func TestLateSeedDoesNotRegressLiveState(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	// The seed snapshot was taken before the live update below.
	fetcher.set(feed.TableIncidents,
		decodeRow(t, feed.TableIncidents, incidentRow("i1", "active", "2024-03-01T10:00:00Z")),
		decodeRow(t, feed.TableIncidents, incidentRow("i2", "active", "2024-03-01T10:00:00Z")))

	s := NewIncidentStream(hub, fetcher)
	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	publish(hub, "UPDATE", feed.TableIncidents, incidentRow("i1", "resolved", "2024-03-01T10:30:00Z"), "")
	publish(hub, "DELETE", feed.TableIncidents, "", `{"id":"i2"}`)
	require.Eventually(t, func() bool {
		r, ok := s.Get("i1")
		return ok && r.Status == "resolved"
	}, waitFor, 5*time.Millisecond)

	close(fetcher.gate)
	waitSeeded(t, s.Stream)

	view := s.CurrentView()
	require.Len(t, view, 1, "deleted row must not be resurrected by an older seed")
	assert.Equal(t, "resolved", view[0].Status)
}

func TestSeedFailureKeepsViewEmptyUntilRefetch(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	fetcher := newFakeFetcher()
	fetcher.setErr(errors.NewStd("store unavailable"))
	fetcher.set(feed.TableIncidents, decodeRow(t, feed.TableIncidents, incidentRow("i1", "active", "2024-03-01T10:00:00Z")))

	s := NewIncidentStream(hub, fetcher)
	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	waitSeeded(t, s.Stream)
	seeded, seedErr := s.Seeded()
	assert.False(t, seeded)
	require.Error(t, seedErr)
	assert.Empty(t, s.CurrentView())

	fetcher.setErr(nil)
	require.NoError(t, s.Refetch(t.Context()))
	seeded, seedErr = s.Seeded()
	assert.True(t, seeded)
	require.NoError(t, seedErr)
	assert.Len(t, s.CurrentView(), 1)
}

func TestConcurrentRefetchesShareOneFetch(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})

	s := NewIncidentStream(hub, fetcher)
	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	require.Eventually(t, func() bool { return fetcher.callCount(feed.TableIncidents) == 1 }, waitFor, time.Millisecond)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Refetch(t.Context()))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	assert.Equal(t, 1, fetcher.callCount(feed.TableIncidents))
}

func TestSubscribeLifecycle(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	s := NewIncidentStream(hub, nil)

	require.ErrorIs(t, s.Refetch(t.Context()), ErrNotSubscribed)

	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	_, err = s.Subscribe(t.Context(), feed.Filter{})
	require.ErrorIs(t, err, ErrAlreadySubscribed)

	publish(hub, "INSERT", feed.TableIncidents, incidentRow("i1", "active", "2024-03-01T10:00:00Z"), "")
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, 5*time.Millisecond)

	h.Unsubscribe()
	h.Unsubscribe()

	publish(hub, "INSERT", feed.TableIncidents, incidentRow("i2", "active", "2024-03-01T10:00:00Z"), "")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, s.Len(), "no callbacks after Unsubscribe")
	require.ErrorIs(t, s.Refetch(t.Context()), ErrNotSubscribed)

	h2, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h2.Unsubscribe()
	assert.Equal(t, 0, s.Len(), "view resets on resubscribe")
}

func TestListenerPanicDoesNotBreakStream(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	s := NewIncidentStream(hub, nil)
	s.OnChange(func(Update[IncidentReport]) { panic("boom") })
	var rec recorder[IncidentReport]
	s.OnChange(rec.listen)

	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	publish(hub, "INSERT", feed.TableIncidents, incidentRow("i1", "active", "2024-03-01T10:00:00Z"), "")
	publish(hub, "INSERT", feed.TableIncidents, incidentRow("i2", "active", "2024-03-01T10:00:00Z"), "")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, waitFor, 5*time.Millisecond)
}

func TestFarIncidentStillInView(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	s := NewIncidentStream(hub, nil)
	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	// Tampere is roughly 160km from Helsinki.
	publish(hub, "INSERT", feed.TableIncidents,
		`{"id":"far","user_id":"b","type":"fire","status":"active","latitude":61.4978,"longitude":23.7610}`, "")
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, 5*time.Millisecond)

	helsinki := geo.Point{Lat: 60.1699, Lng: 24.9384}
	assert.Empty(t, s.Near(helsinki, 10_000))
	assert.Len(t, s.Near(helsinki, 200_000), 1)
}
