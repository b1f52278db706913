// Package streams maintains typed, merged views of the tracked tables. Each Stream
// seeds itself with a full fetch and then applies change events incrementally;
// the newest version of an entity wins regardless of whether it came from the
// seed or from the live feed.
package streams

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// maxTombstones bounds remembered deletes per stream.
const maxTombstones = 4096

// ErrAlreadySubscribed is returned by Subscribe while a handle is active.
var ErrAlreadySubscribed = errors.Newf("stream already subscribed").
	Component("streams").
	Category(errors.CategoryState).
	Build()

// ErrNotSubscribed is returned by Refetch without an active subscription.
var ErrNotSubscribed = errors.Newf("stream not subscribed").
	Component("streams").
	Category(errors.CategoryState).
	Build()

// Update describes one change of a stream's exposed view. Value is the zero value
// for deletes.
type Update[T any] struct {
	Kind  feed.ChangeKind
	ID    string
	Value T
}

// Listener observes view changes. Calls are serialized per stream.
type Listener[T any] func(Update[T])

// Observer receives view sizes. The metrics package implements it.
type Observer interface {
	ViewSize(stream string, size int)
}

type nopObserver struct{}

func (nopObserver) ViewSize(string, int) {}

// Option configures a stream.
type Option func(*options)

type options struct {
	log      logger.Logger
	observer Observer
}

// WithLogger sets the stream logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver installs a view size observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// family describes how one entity family maps onto a stream.
type family[T any] struct {
	name    string
	table   feed.Table
	convert func(feed.Record) (T, bool)
	merge   func(prev, next T) T // optional; carries state not present in rows
	visible func(T) bool         // optional; filters the exposed view
	clone   func(T) T            // optional; deep copy for values leaving the stream
	compare func(a, b T) int     // optional; view order, insertion order otherwise
	ext     extension[T]         // optional; secondary table
}

// extension applies events of a secondary table to primary entities. All methods
// except table run with the stream lock held.
type extension[T any] interface {
	table() feed.Table
	apply(lookup func(id string) (*T, bool), ev feed.Event, live bool) (id string, changed bool)
	attached(id string, value *T)
	removed(id string)
	reset()
}

type entry[T any] struct {
	value   T
	version time.Time
}

// Stream is one normalizer instance.
type Stream[T any] struct {
	fam      family[T]
	hub      feed.Subscriber
	fetcher  feed.Fetcher
	log      logger.Logger
	observer Observer
	group    singleflight.Group

	// notifyMu serializes mutation plus listener delivery; it is taken before mu.
	notifyMu sync.Mutex

	mu         sync.RWMutex
	items      map[string]*entry[T]
	order      []string
	tombstones map[string]time.Time
	listeners  []Listener[T]
	filter     feed.Filter
	gen        uint64
	active     bool
	seeded     bool
	seedErr    error
}

func newStream[T any](fam family[T], hub feed.Subscriber, fetcher feed.Fetcher, opts ...Option) *Stream[T] {
	o := options{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewDiscardLogger()
	}
	return &Stream[T]{
		fam:        fam,
		hub:        hub,
		fetcher:    fetcher,
		log:        o.log.Module("streams").With(logger.String("stream", fam.name)),
		observer:   o.observer,
		items:      make(map[string]*entry[T]),
		tombstones: make(map[string]time.Time),
	}
}

// Name returns the stream name.
func (s *Stream[T]) Name() string {
	return s.fam.name
}

// Subscribe starts consuming the feed for rows matching filter and seeds the view
// with one full fetch in the background. The view is reset on every Subscribe.
// ctx bounds the seed fetch only.
func (s *Stream[T]) Subscribe(ctx context.Context, filter feed.Filter) (*Handle, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	s.active = true
	s.gen++
	gen := s.gen
	s.filter = filter
	s.items = make(map[string]*entry[T])
	s.order = nil
	s.tombstones = make(map[string]time.Time)
	s.seeded = false
	s.seedErr = nil
	if s.fam.ext != nil {
		s.fam.ext.reset()
	}
	s.mu.Unlock()

	seedCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel:   cancel,
		seedDone: make(chan struct{}),
		detach:   func() { s.detach(gen) },
	}
	h.subs = append(h.subs, s.hub.Subscribe(s.fam.name, []feed.Table{s.fam.table}, filter, s.handle))
	if s.fam.ext != nil {
		t := s.fam.ext.table()
		h.subs = append(h.subs, s.hub.Subscribe(s.fam.name+"."+string(t), []feed.Table{t}, feed.Filter{}, s.handleSecondary))
	}

	go func() {
		defer close(h.seedDone)
		if err := s.Refetch(seedCtx); err != nil && seedCtx.Err() == nil {
			s.log.Warn("initial seed failed, view stays empty until refetch", logger.Error(err))
		}
	}()

	s.log.Info("subscribed", logger.String("filter", filter.String()))
	return h, nil
}

func (s *Stream[T]) detach(gen uint64) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == gen {
		s.gen++
		s.active = false
		s.log.Info("unsubscribed")
	}
}

// OnChange registers a listener for changes of the exposed view.
func (s *Stream[T]) OnChange(l Listener[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// CurrentView returns a snapshot of the exposed view.
func (s *Stream[T]) CurrentView() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		e := s.items[id]
		if s.visible(e.value) {
			out = append(out, s.copyOf(e.value))
		}
	}
	if s.fam.compare != nil {
		slices.SortStableFunc(out, s.fam.compare)
	}
	return out
}

// Get returns one entity of the exposed view.
func (s *Stream[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok || !s.visible(e.value) {
		var zero T
		return zero, false
	}
	return s.copyOf(e.value), true
}

// Len returns the size of the exposed view.
func (s *Stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleCountLocked()
}

// Seeded reports whether a seed fetch has completed, and the last seed error.
func (s *Stream[T]) Seeded() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded, s.seedErr
}

// Refetch performs a full fetch and merges it into the view. Concurrent calls
// share one fetch.
func (s *Stream[T]) Refetch(ctx context.Context) error {
	s.mu.RLock()
	active, gen, filter := s.active, s.gen, s.filter
	s.mu.RUnlock()

	if !active {
		return ErrNotSubscribed
	}
	if s.fetcher == nil {
		s.mu.Lock()
		s.seeded = true
		s.mu.Unlock()
		return nil
	}

	_, err, _ := s.group.Do("seed", func() (any, error) {
		return nil, s.seed(ctx, gen, filter)
	})
	return err
}

func (s *Stream[T]) seed(ctx context.Context, gen uint64, filter feed.Filter) error {
	start := time.Now()
	records, err := s.fetcher.Fetch(ctx, s.fam.table, filter)
	if err != nil {
		s.mu.Lock()
		s.seedErr = err
		s.mu.Unlock()
		return err
	}

	var secondary []feed.Record
	if s.fam.ext != nil {
		secondary, err = s.fetcher.Fetch(ctx, s.fam.ext.table(), feed.Filter{})
		if err != nil {
			// The primary rows are still applied; the path fills from live events.
			s.log.Warn("secondary seed failed",
				logger.String("table", string(s.fam.ext.table())),
				logger.Error(err))
		}
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	var updates []Update[T]
	applied := 0
	for _, rec := range records {
		value, ok := s.fam.convert(rec)
		if !ok {
			continue
		}
		if u, ok := s.upsertLocked(rec.EntityID(), value, rec.Version(), false); ok {
			updates = append(updates, u)
		}
		applied++
	}
	for _, rec := range secondary {
		ev := feed.Event{Table: s.fam.ext.table(), EntityID: rec.EntityID(), Kind: feed.Insert, After: rec}
		if u, ok := s.applySecondaryLocked(ev, false); ok {
			updates = append(updates, u)
		}
	}
	s.seeded = true
	s.seedErr = nil
	listeners, size := s.listeners, s.visibleCountLocked()
	s.mu.Unlock()

	s.emit(listeners, updates, size)
	s.log.Debug("seed applied",
		logger.Int("rows", len(records)),
		logger.Int("applied", applied),
		logger.Int("changes", len(updates)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Stream[T]) handle(ev feed.Event) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	var (
		u  Update[T]
		ok bool
	)
	switch ev.Kind {
	case feed.Delete:
		u, ok = s.removeLocked(ev.EntityID, ev.OccurredAt)
	default:
		value, converted := s.fam.convert(ev.After)
		if !converted {
			s.mu.Unlock()
			s.log.Warn("ignoring row of unexpected type",
				logger.String("table", string(ev.Table)),
				logger.String("entity_id", ev.EntityID))
			return
		}
		version := ev.After.Version()
		if version.IsZero() {
			version = ev.OccurredAt
		}
		u, ok = s.upsertLocked(ev.EntityID, value, version, true)
	}
	listeners, size := s.listeners, s.visibleCountLocked()
	s.mu.Unlock()

	if ok {
		s.emit(listeners, []Update[T]{u}, size)
	}
}

func (s *Stream[T]) handleSecondary(ev feed.Event) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	u, ok := s.applySecondaryLocked(ev, true)
	listeners := s.listeners
	s.mu.Unlock()

	if ok {
		s.emit(listeners, []Update[T]{u}, -1)
	}
}

func (s *Stream[T]) applySecondaryLocked(ev feed.Event, live bool) (Update[T], bool) {
	id, changed := s.fam.ext.apply(s.lookupLocked, ev, live)
	if !changed {
		return Update[T]{}, false
	}
	e := s.items[id]
	if !s.visible(e.value) {
		return Update[T]{}, false
	}
	return Update[T]{Kind: feed.Update, ID: id, Value: s.copyOf(e.value)}, true
}

func (s *Stream[T]) lookupLocked(id string) (*T, bool) {
	e, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return &e.value, true
}

// upsertLocked stores value unless a newer version or delete is already applied.
// Live events win ties; seed rows need a strictly newer version to replace state.
func (s *Stream[T]) upsertLocked(id string, value T, version time.Time, live bool) (Update[T], bool) {
	stale := func(current time.Time) bool {
		if live {
			return version.Before(current)
		}
		return !version.After(current)
	}

	if ts, ok := s.tombstones[id]; ok {
		if stale(ts) {
			return Update[T]{}, false
		}
		delete(s.tombstones, id)
	}

	if e, ok := s.items[id]; ok {
		if stale(e.version) {
			return Update[T]{}, false
		}
		wasVisible := s.visible(e.value)
		if s.fam.merge != nil {
			value = s.fam.merge(e.value, value)
		}
		e.value = value
		e.version = version
		return s.transition(id, wasVisible, e.value)
	}

	e := &entry[T]{value: value, version: version}
	s.items[id] = e
	s.order = append(s.order, id)
	if s.fam.ext != nil {
		s.fam.ext.attached(id, &e.value)
	}
	return s.transition(id, false, e.value)
}

// removeLocked applies a live delete. The feed delivers changes in commit order,
// so a delete always wins over the stored row; its commit time and the row's
// updated_at come from different clocks and are not compared. The tombstone
// keeps the later of the two so older seed rows stay out.
func (s *Stream[T]) removeLocked(id string, at time.Time) (Update[T], bool) {
	e, ok := s.items[id]
	if ok && e.version.After(at) {
		at = e.version
	}
	if ts, seen := s.tombstones[id]; !seen || at.After(ts) {
		s.tombstones[id] = at
		s.pruneTombstonesLocked()
	}
	if !ok {
		return Update[T]{}, false
	}

	wasVisible := s.visible(e.value)
	delete(s.items, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	if s.fam.ext != nil {
		s.fam.ext.removed(id)
	}
	if !wasVisible {
		return Update[T]{}, false
	}
	return Update[T]{Kind: feed.Delete, ID: id}, true
}

func (s *Stream[T]) pruneTombstonesLocked() {
	for len(s.tombstones) > maxTombstones {
		var oldestID string
		var oldest time.Time
		for id, ts := range s.tombstones {
			if oldestID == "" || ts.Before(oldest) {
				oldestID, oldest = id, ts
			}
		}
		delete(s.tombstones, oldestID)
	}
}

// transition maps a stored change onto the exposed view.
func (s *Stream[T]) transition(id string, wasVisible bool, value T) (Update[T], bool) {
	nowVisible := s.visible(value)
	switch {
	case nowVisible && !wasVisible:
		return Update[T]{Kind: feed.Insert, ID: id, Value: s.copyOf(value)}, true
	case nowVisible:
		return Update[T]{Kind: feed.Update, ID: id, Value: s.copyOf(value)}, true
	case wasVisible:
		return Update[T]{Kind: feed.Delete, ID: id}, true
	default:
		return Update[T]{}, false
	}
}

func (s *Stream[T]) visible(v T) bool {
	return s.fam.visible == nil || s.fam.visible(v)
}

func (s *Stream[T]) copyOf(v T) T {
	if s.fam.clone == nil {
		return v
	}
	return s.fam.clone(v)
}

func (s *Stream[T]) visibleCountLocked() int {
	if s.fam.visible == nil {
		return len(s.items)
	}
	n := 0
	for _, e := range s.items {
		if s.fam.visible(e.value) {
			n++
		}
	}
	return n
}

// emit delivers updates with notifyMu held. size < 0 skips the size report.
func (s *Stream[T]) emit(listeners []Listener[T], updates []Update[T], size int) {
	if size >= 0 {
		s.observer.ViewSize(s.fam.name, size)
	}
	for _, u := range updates {
		for _, l := range listeners {
			s.call(l, u)
		}
	}
}

func (s *Stream[T]) call(l Listener[T], u Update[T]) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("listener panicked", logger.String("entity_id", u.ID), logger.Any("panic", r))
		}
	}()
	l(u)
}

// Handle is an active stream subscription.
type Handle struct {
	subs     []*feed.Subscription
	cancel   context.CancelFunc
	seedDone chan struct{}
	detach   func()
	once     sync.Once
}

// Unsubscribe stops future callbacks. It waits for in-flight callbacks and the
// initial seed to finish; results of fetches still running afterwards are discarded.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.cancel()
		for _, sub := range h.subs {
			sub.Unsubscribe()
		}
		<-h.seedDone
		h.detach()
	})
}
