package feed

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/safetynet-go/internal/logger"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.events))
	for i, ev := range c.events {
		ids[i] = ev.EntityID
	}
	return ids
}

func messageChange(id, thread string) Change {
	return change("INSERT", "messages", fmt.Sprintf(`{"id":%q,"thread_id":%q,"sender_id":"s"}`, id, thread), "")
}

func TestHubDeliversInOrderToEverySubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewDiscardLogger())
	defer hub.Close()

	var a, b collector
	hub.Subscribe("a", []Table{TableMessages}, Filter{}, a.handle)
	hub.Subscribe("b", []Table{TableMessages}, Filter{}, b.handle)

	want := make([]string, 0, 50)
	for i := range 50 {
		id := fmt.Sprintf("m%02d", i)
		want = append(want, id)
		hub.Publish(messageChange(id, "t"))
	}

	require.Eventually(t, func() bool { return len(a.ids()) == 50 && len(b.ids()) == 50 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.ids())
	assert.Equal(t, want, b.ids())
}

func TestHubAppliesTablesAndFilters(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewDiscardLogger())
	defer hub.Close()

	var thread, incidents collector
	hub.Subscribe("thread", []Table{TableMessages}, Eq("thread_id", "t1"), thread.handle)
	hub.Subscribe("incidents", []Table{TableIncidents}, Filter{}, incidents.handle)

	hub.Publish(messageChange("m1", "t1"))
	hub.Publish(messageChange("m2", "t2"))
	hub.Publish(messageChange("m3", "t1"))

	require.Eventually(t, func() bool { return len(thread.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m3"}, thread.ids())
	assert.Empty(t, incidents.ids())
}

func TestHubDropsMalformedWithoutAffectingOthers(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewDiscardLogger())
	defer hub.Close()

	var got collector
	hub.Subscribe("c", []Table{TableMessages}, Filter{}, got.handle)

	hub.Publish(messageChange("m1", "t"))
	hub.Publish(change("INSERT", "messages", `{"id":`, ""))
	hub.Publish(messageChange("m2", "t"))

	require.Eventually(t, func() bool { return len(got.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, got.ids())
	assert.Equal(t, uint64(1), hub.Stats().Malformed.Load())
}

func TestHubRecoversHandlerPanics(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewDiscardLogger())
	defer hub.Close()

	var got collector
	hub.Subscribe("flaky", []Table{TableMessages}, Filter{}, func(ev Event) {
		if ev.EntityID == "boom" {
			panic("handler bug")
		}
		got.handle(ev)
	})

	hub.Publish(messageChange("boom", "t"))
	hub.Publish(messageChange("ok", "t"))

	require.Eventually(t, func() bool { return len(got.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), hub.Stats().Panics.Load())
}

func TestUnsubscribeWaitsForInflightAndStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewDiscardLogger())
	defer hub.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var finished atomic.Bool

	sub := hub.Subscribe("slow", []Table{TableMessages}, Filter{}, func(ev Event) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			finished.Store(true)
		}
	})

	hub.Publish(messageChange("m1", "t"))
	hub.Publish(messageChange("m2", "t"))
	<-started

	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Unsubscribe returned while a callback was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	assert.True(t, finished.Load())

	hub.Publish(messageChange("m3", "t"))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "no callbacks after Unsubscribe")
}
