package feed

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// Hub decodes raw changes once and fans the resulting events out to independent
// subscribers. Every subscriber has its own unbounded FIFO and goroutine, so a slow
// consumer never blocks the transport or other consumers and no event is dropped.
type Hub struct {
	log      logger.Logger
	clock    clock.Clock
	observer Observer

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	stats HubStats
}

// HubStats counts ingestion outcomes.
type HubStats struct {
	Received  atomic.Uint64
	Malformed atomic.Uint64
	Delivered atomic.Uint64
	Panics    atomic.Uint64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClock sets the clock used to stamp events without a commit timestamp.
func WithClock(c clock.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

// WithObserver installs an ingestion observer.
func WithObserver(o Observer) HubOption {
	return func(h *Hub) { h.observer = o }
}

// NewHub creates a hub.
func NewHub(log logger.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	h := &Hub{
		log:      log.Module("hub"),
		clock:    clock.WallClock,
		observer: nopObserver{},
		subs:     make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish decodes a raw change and delivers it. Malformed changes are logged,
// counted and dropped; they never reach subscribers.
func (h *Hub) Publish(c Change) {
	h.stats.Received.Add(1)

	ev, err := c.ToEvent(h.clock.Now())
	if err != nil {
		h.stats.Malformed.Add(1)
		reason := "malformed"
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			if r, ok := ee.GetContext()["reason"].(string); ok {
				reason = r
			}
		}
		h.observer.EventDropped(c.Table, "malformed")
		h.log.Warn("dropping malformed change",
			logger.String("table", c.Table),
			logger.String("type", c.Type),
			logger.String("reason", reason))
		return
	}

	h.PublishEvent(ev)
}

// PublishEvent delivers an already decoded event.
func (h *Hub) PublishEvent(ev Event) {
	h.observer.EventReceived(ev.Table, ev.Kind)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if sub.wants(ev) {
			sub.enqueue(ev)
		}
	}
}

// Subscribe registers handler for events of the given tables that match filter.
func (h *Hub) Subscribe(name string, tables []Table, filter Filter, handler Handler) *Subscription {
	sub := &Subscription{
		name:    name,
		tables:  slices.Clone(tables),
		filter:  filter,
		handler: handler,
		hub:     h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.exited)
		sub.stopped.Store(true)
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	h.log.Debug("subscriber registered",
		logger.String("subscriber", name),
		logger.Any("tables", tables),
		logger.String("filter", filter.String()))
	return sub
}

// Close unsubscribes everyone and rejects further publishing.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Stats returns the hub counters.
func (h *Hub) Stats() *HubStats {
	return &h.stats
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Subscription is a handle on one hub subscriber.
type Subscription struct {
	id      uint64
	name    string
	tables  []Table
	filter  Filter
	handler Handler
	hub     *Hub

	mu      sync.Mutex
	pending []Event
	signal  chan struct{}
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func (s *Subscription) wants(ev Event) bool {
	return slices.Contains(s.tables, ev.Table) && s.filter.Matches(ev)
}

func (s *Subscription) enqueue(ev Event) {
	if s.stopped.Load() {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.exited)

	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, ev := range batch {
			if s.stopped.Load() {
				return
			}
			s.deliver(ev)
		}
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.stats.Panics.Add(1)
			s.hub.log.Error("subscriber panicked",
				logger.String("subscriber", s.name),
				logger.String("table", string(ev.Table)),
				logger.String("entity_id", ev.EntityID),
				logger.Any("panic", r))
		}
	}()
	s.handler(ev)
	s.hub.stats.Delivered.Add(1)
}

// Unsubscribe stops future callbacks and waits for an in-flight callback to return.
// It must not be called from inside the subscription's own handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.stopped.Store(true)
		if s.hub != nil {
			s.hub.remove(s.id)
		}
		close(s.done)
	})
	<-s.exited
}

// Name returns the subscriber name.
func (s *Subscription) Name() string {
	return s.name
}
