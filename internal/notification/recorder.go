package notification

import (
	"time"

	"github.com/tphakala/safetynet-go/internal/feed"
)

// Recorder receives dispatcher statistics. The metrics package implements it.
type Recorder interface {
	DispatchDecided(ev feed.Event, d Decision)
	PushSent(provider string, priority Priority, err error, elapsed time.Duration)
	PersistFailed(eventType string)
	QueueDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) DispatchDecided(feed.Event, Decision)            {}
func (nopRecorder) PushSent(string, Priority, error, time.Duration) {}
func (nopRecorder) PersistFailed(string)                            {}
func (nopRecorder) QueueDepth(int)                                  {}
