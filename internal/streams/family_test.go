package streams

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/feed"
)

func messageRow(id, thread string, minute int) string {
	return fmt.Sprintf(`{"id":%q,"thread_id":%q,"sender_id":"s","content":"hi","created_at":"2024-03-01T10:%02d:00Z"}`,
		id, thread, minute)
}

func TestMessageStreamFiltersAndOrders(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	s := NewMessageStream(hub, nil)
	h, err := s.Subscribe(t.Context(), feed.Eq("thread_id", "t1"))
	require.NoError(t, err)
	defer h.Unsubscribe()

	publish(hub, "INSERT", feed.TableMessages, messageRow("m3", "t1", 3), "")
	publish(hub, "INSERT", feed.TableMessages, messageRow("x1", "t2", 0), "")
	publish(hub, "INSERT", feed.TableMessages, messageRow("m1", "t1", 1), "")
	publish(hub, "INSERT", feed.TableMessages, messageRow("m2", "t1", 2), "")

	require.Eventually(t, func() bool { return s.Len() == 3 }, waitFor, 5*time.Millisecond)

	view := s.CurrentView()
	ids := []string{view[0].ID, view[1].ID, view[2].ID}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
}

func TestLookAfterMeWatching(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	s := NewLookAfterMeStream(hub, nil)
	h, err := s.Subscribe(t.Context(), feed.Filter{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	publish(hub, "INSERT", feed.TableLookAfterMe,
		`{"id":"s1","user_id":"b","status":"active","is_active":true,"destination":"home",`+
			`"expected_arrival":"2024-03-01T11:00:00Z","watcher_ids":["a","c"]}`, "")
	publish(hub, "INSERT", feed.TableLookAfterMe,
		`{"id":"s2","user_id":"d","status":"active","is_active":true,"watcher_ids":["c"]}`, "")

	require.Eventually(t, func() bool { return s.Len() == 2 }, waitFor, 5*time.Millisecond)

	watching := s.Watching("a")
	require.Len(t, watching, 1)
	assert.Equal(t, "s1", watching[0].ID)
	assert.True(t, watching[0].Overdue(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.False(t, watching[0].Overdue(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	// Mutating a returned value must not leak into the stream.
	watching[0].Watchers[0] = "z"
	again, _ := s.Get("s1")
	assert.Equal(t, []string{"a", "c"}, again.Watchers)
}
