package notification

import (
	"context"
	"sync"

	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// DefaultCueBufferSize is the per-subscriber buffer of the live cue broadcaster.
const DefaultCueBufferSize = 32

// FeedbackPattern is the local sound and vibration pattern for a notification.
type FeedbackPattern string

const (
	FeedbackNone      FeedbackPattern = "none"
	FeedbackStandard  FeedbackPattern = "standard"
	FeedbackEmergency FeedbackPattern = "emergency"
)

// FeedbackFor maps a priority to its feedback pattern.
func FeedbackFor(p Priority) FeedbackPattern {
	switch p {
	case PriorityCritical:
		return FeedbackEmergency
	case PriorityImportant:
		return FeedbackStandard
	default:
		return FeedbackNone
	}
}

// CueKind distinguishes live cue payloads.
type CueKind string

const (
	CueFeedback     CueKind = "feedback"
	CueNotification CueKind = "notification"
)

// Cue is pushed to live subscribers such as the SSE endpoint.
type Cue struct {
	Kind         CueKind                 `json:"kind"`
	DedupKey     string                  `json:"dedupKey"`
	Pattern      FeedbackPattern         `json:"pattern,omitempty"`
	Sound        bool                    `json:"sound,omitempty"`
	Vibrate      bool                    `json:"vibrate,omitempty"`
	Notification *datastore.Notification `json:"notification,omitempty"`
}

type cueSubscriber struct {
	ch     chan Cue
	ctx    context.Context
	cancel context.CancelFunc
}

// Broadcaster fans live cues out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the cue.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers []*cueSubscriber
	bufferSize  int
	dropped     uint64
	log         logger.Logger
}

// NewBroadcaster creates a broadcaster. bufferSize <= 0 uses DefaultCueBufferSize.
func NewBroadcaster(bufferSize int, log logger.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultCueBufferSize
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Broadcaster{bufferSize: bufferSize, log: log}
}

// Subscribe registers a subscriber. The returned channel is never closed by the
// broadcaster; callers stop reading once the returned context is done, which
// happens after the cancel function is called.
func (b *Broadcaster) Subscribe() (<-chan Cue, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &cueSubscriber{
		ch:     make(chan Cue, b.bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return sub.ch, ctx, cancel
}

// Publish delivers a cue to every live subscriber and prunes cancelled ones.
func (b *Broadcaster) Publish(cue Cue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	active := b.subscribers[:0]
	for _, sub := range b.subscribers {
		if sub.ctx.Err() != nil {
			continue
		}
		active = append(active, sub)
		select {
		case sub.ch <- cue:
		default:
			b.dropped++
			b.log.Debug("cue subscriber buffer full, skipping",
				logger.String("kind", string(cue.Kind)),
				logger.String("dedup_key", cue.DedupKey))
		}
	}
	clear(b.subscribers[len(active):])
	b.subscribers = active
}

// Subscribers returns the number of registered subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped returns how many cue deliveries were skipped on full buffers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
