package notification

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/settings"
)

// pruneEvery is how many handled events pass between sweeps of expired dedup keys.
const pruneEvery = 128

// Tables are the change-feed tables the dispatcher classifies.
var Tables = []feed.Table{feed.TablePanicAlerts, feed.TableIncidents, feed.TableLookAfterMe}

// GeoFilter answers proximity questions. It must fail open without a location.
type GeoFilter interface {
	WithinRadius(lat, lng, radiusMeters float64) bool
}

// Gate is the settings admission check.
type Gate interface {
	ShouldNotify(tier settings.Tier) bool
	Settings(ctx context.Context) settings.Settings
}

// InAppStore persists in-app notifications and reports recent ones for dedup
// hydration.
type InAppStore interface {
	InsertNotification(ctx context.Context, n *datastore.Notification) error
	RecentDispatches(ctx context.Context, userID string, since time.Time) ([]datastore.DispatchRecord, error)
}

// Config holds the dispatcher rules.
type Config struct {
	// UserID is the observing user. Events they authored never notify them.
	UserID        string
	DedupCooldown time.Duration
	PushThrottle  time.Duration
	GeoRadius     float64 // meters
	QueueSize     int
	Workers       int
	Retry         RetryPolicy
}

// ConfigFromSettings derives the dispatcher configuration from app settings.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		UserID:        s.User.ID,
		DedupCooldown: s.Notification.DedupCooldown,
		PushThrottle:  s.Notification.PushThrottle,
		GeoRadius:     s.Notification.GeoRadius,
		QueueSize:     s.Notification.QueueSize,
		Workers:       s.Notification.Workers,
		Retry: RetryPolicy{
			Attempts: s.Notification.Push.MaxRetries + 1,
			Delay:    s.Notification.Push.RetryDelay,
		},
	}
}

// Dependencies are the collaborators of a Dispatcher. Gate and Store are
// required; a nil Push disables push delivery and a nil Geo disables the
// proximity filter.
type Dependencies struct {
	Geo      GeoFilter
	Gate     Gate
	Store    InAppStore
	Push     PushSender
	Client   *ClientState
	Cues     *Broadcaster
	Recorder Recorder
	Clock    clock.Clock
	Logger   logger.Logger
}

// Dispatcher turns domain events into notifications. All decisions are made on
// the goroutine running Run; the dedup store and the push throttle belong to it.
type Dispatcher struct {
	cfg      Config
	geo      GeoFilter
	gate     Gate
	store    InAppStore
	push     PushSender
	client   *ClientState
	cues     *Broadcaster
	recorder Recorder
	clock    clock.Clock
	log      logger.Logger

	events  chan feed.Event
	done    chan struct{}
	running atomic.Bool
	tasks   *taskQueue

	// actor state
	dedup    *cache.Cache
	statuses *statusMemory
	lastPush time.Time
	handled  int
}

// NewDispatcher validates cfg and deps and creates a dispatcher. Call Run to
// start processing.
func NewDispatcher(cfg Config, deps Dependencies) (*Dispatcher, error) {
	if cfg.UserID == "" {
		return nil, configError("user id is required")
	}
	if deps.Gate == nil || deps.Store == nil {
		return nil, configError("settings gate and in-app store are required")
	}
	if cfg.DedupCooldown <= 0 {
		cfg.DedupCooldown = conf.DefaultDedupCooldown
	}
	if cfg.PushThrottle <= 0 {
		cfg.PushThrottle = conf.DefaultPushThrottle
	}
	if cfg.GeoRadius <= 0 {
		cfg.GeoRadius = conf.DefaultGeoRadius
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	d := &Dispatcher{
		cfg:      cfg,
		geo:      deps.Geo,
		gate:     deps.Gate,
		store:    deps.Store,
		push:     deps.Push,
		client:   deps.Client,
		cues:     deps.Cues,
		recorder: deps.Recorder,
		clock:    deps.Clock,
		log:      deps.Logger,
		events:   make(chan feed.Event, cfg.QueueSize),
		done:     make(chan struct{}),
		dedup:    cache.New(cfg.DedupCooldown, 0), // no janitor; the actor sweeps expired keys
		statuses: newStatusMemory(statusTTL),
	}
	if d.client == nil {
		d.client = NewClientState()
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	if d.clock == nil {
		d.clock = clock.WallClock
	}
	if d.log == nil {
		d.log = logger.NewDiscardLogger()
	}
	d.log = d.log.Module("notification")
	if d.cues == nil {
		d.cues = NewBroadcaster(0, d.log)
	}
	return d, nil
}

func configError(msg string) error {
	return errors.Newf("notification dispatcher: %s", msg).
		Component("notification").
		Category(errors.CategoryConfiguration).
		Build()
}

// Client returns the client state the push gate reads.
func (d *Dispatcher) Client() *ClientState { return d.client }

// Cues returns the live cue broadcaster.
func (d *Dispatcher) Cues() *Broadcaster { return d.cues }

// Subscribe attaches the dispatcher to the change feed. The handler blocks while
// the inbound queue is full, so events are delayed rather than dropped.
func (d *Dispatcher) Subscribe(ctx context.Context, sub feed.Subscriber) *feed.Subscription {
	return sub.Subscribe("dispatcher", Tables, feed.Filter{}, func(ev feed.Event) {
		if err := d.OnDomainEvent(ctx, ev); err != nil {
			d.log.Warn("event not dispatched",
				logger.String("table", string(ev.Table)),
				logger.String("entity_id", ev.EntityID),
				logger.Error(err))
		}
	})
}

// OnDomainEvent queues ev for the dispatcher. It blocks while the queue is full
// and fails only when ctx ends or the dispatcher has stopped.
func (d *Dispatcher) OnDomainEvent(ctx context.Context, ev feed.Event) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.events <- ev:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx ends. Queued tasks are drained before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.Newf("notification dispatcher already running").
			Component("notification").
			Category(errors.CategoryState).
			Build()
	}

	d.tasks = newTaskQueue(d.cfg.QueueSize, d.cfg.Workers, d.log)
	defer func() {
		close(d.done)
		d.tasks.close(defaultDrainGrace)
		d.log.Info("notification dispatcher stopped")
	}()

	d.hydrate(ctx)
	d.log.Info("notification dispatcher started",
		logger.String("user_id", d.cfg.UserID),
		logger.Duration("dedup_cooldown", d.cfg.DedupCooldown),
		logger.Duration("push_throttle", d.cfg.PushThrottle),
		logger.Float64("geo_radius_m", d.cfg.GeoRadius))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.events:
			d.process(ctx, ev)
		}
	}
}

// hydrate re-arms dedup keys from in-app records written within the cooldown,
// so a restart does not repeat notifications.
func (d *Dispatcher) hydrate(ctx context.Context) {
	now := d.clock.Now()
	records, err := d.store.RecentDispatches(ctx, d.cfg.UserID, now.Add(-d.cfg.DedupCooldown))
	if err != nil {
		d.log.Warn("dedup hydration failed, starting with an empty dedup store", logger.Error(err))
		return
	}

	armed := 0
	for _, r := range records {
		remaining := d.cfg.DedupCooldown - now.Sub(r.CreatedAt)
		if remaining <= 0 {
			continue
		}
		d.dedup.Set(r.DedupKey, r.CreatedAt, remaining)
		armed++
	}
	if armed > 0 {
		d.log.Info("dedup keys restored from in-app history", logger.Int("count", armed))
	}
}

func (d *Dispatcher) process(ctx context.Context, ev feed.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("dispatch panicked: %v", r).
				Component("notification").
				Category(errors.CategoryProcessing).
				Priority(errors.PriorityHigh).
				Context("table", string(ev.Table)).
				Context("entity_id", ev.EntityID).
				Build()
			d.log.Error("dispatch panicked",
				logger.Error(err),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	decision := d.handle(ctx, ev)
	d.recorder.DispatchDecided(ev, decision)
	d.recorder.QueueDepth(len(d.events) + d.tasks.pending())

	if decision.Intent != nil {
		d.log.Debug("dispatch decision",
			logger.String("dedup_key", decision.Intent.DedupKey()),
			logger.String("outcome", string(decision.Outcome)),
			logger.String("priority", string(decision.Intent.Priority)),
			logger.String("push_skipped", decision.PushSkipped))
	}

	d.handled++
	if d.handled%pruneEvery == 0 {
		d.dedup.DeleteExpired()
		d.statuses.prune()
	}
}

// handle applies the dispatch algorithm to one event. The order of the steps is
// binding: dedup is armed before any side effect.
func (d *Dispatcher) handle(ctx context.Context, ev feed.Event) Decision {
	now := d.clock.Now()
	ev = d.statuses.observe(ev)

	if actor := ev.ActorID(); actor != "" && actor == d.cfg.UserID {
		return Decision{Outcome: OutcomeSelf}
	}

	intent, ok := Classify(ev, d.cfg.UserID)
	if !ok {
		return Decision{Outcome: OutcomeUnclassified}
	}

	key := intent.DedupKey()
	if d.duplicate(key, now) {
		return Decision{Outcome: OutcomeDuplicate, Intent: intent}
	}
	d.dedup.Set(key, now, d.cfg.DedupCooldown)

	if intent.GeoFiltered && d.geo != nil {
		if p, ok := locationOf(intent); ok && !d.geo.WithinRadius(p.Lat, p.Lng, d.cfg.GeoRadius) {
			return Decision{Outcome: OutcomeOutOfRange, Intent: intent}
		}
	}

	if !d.gate.ShouldNotify(intent.Priority.Tier()) {
		return Decision{Outcome: OutcomeMuted, Intent: intent}
	}

	if intent.Channels.InApp {
		d.persist(ctx, intent, now)
	}
	d.feedback(ctx, intent)

	decision := Decision{Outcome: OutcomeInApp, Intent: intent}
	if !intent.Channels.Push || intent.Priority == PriorityInfo {
		return decision
	}
	if reason := d.pushGate(intent, now); reason != "" {
		decision.PushSkipped = reason
		return decision
	}
	// The throttle moves at decision time; a later send failure does not undo it.
	d.lastPush = now
	d.sendPush(ctx, intent)
	decision.Outcome = OutcomePushed
	return decision
}

func (d *Dispatcher) duplicate(key string, now time.Time) bool {
	v, found := d.dedup.Get(key)
	if !found {
		return false
	}
	last, ok := v.(time.Time)
	return ok && now.Sub(last) < d.cfg.DedupCooldown
}

// pushGate returns why a push must not be sent, or "" when it may.
func (d *Dispatcher) pushGate(intent *Intent, now time.Time) string {
	if d.push == nil || len(d.push.Providers()) == 0 {
		return skipNoProviders
	}
	client := d.client.Snapshot()
	if !client.PushPermission {
		return skipPermission
	}
	if client.Foreground {
		return skipForeground
	}
	if intent.Priority != PriorityCritical && now.Sub(d.lastPush) < d.cfg.PushThrottle {
		return skipThrottled
	}
	return ""
}

func (d *Dispatcher) newRecord(intent *Intent, now time.Time) *datastore.Notification {
	data := datastore.NotificationData{
		URL:         intent.TargetURL,
		RelatedType: intent.RelatedType,
		RelatedID:   intent.RelatedID,
	}
	if intent.Location != nil {
		lat, lng := intent.Location.Lat, intent.Location.Lng
		data.Lat, data.Lng = &lat, &lng
	}
	return &datastore.Notification{
		ID:         uuid.NewString(),
		UserID:     d.cfg.UserID,
		Type:       intent.Kind,
		Title:      intent.Title,
		Body:       intent.Body,
		Priority:   string(intent.Priority),
		EntityID:   intent.RelatedID,
		EntityType: intent.RelatedType,
		DedupKey:   intent.DedupKey(),
		Data:       data,
		CreatedAt:  now,
	}
}

func (d *Dispatcher) persist(ctx context.Context, intent *Intent, now time.Time) {
	record := d.newRecord(intent, now)
	key := record.DedupKey
	eventType := intent.EventType
	priority := errors.PriorityHigh
	if intent.Priority == PriorityCritical {
		priority = errors.PriorityCritical
	}

	d.enqueue(ctx, task{
		name: "persist",
		key:  key,
		run: func(tctx context.Context) error {
			err := d.cfg.Retry.do(tctx, func() error {
				err := d.store.InsertNotification(tctx, record)
				if errors.Is(err, datastore.ErrDuplicateNotification) {
					// An earlier attempt was stored but its reply was lost.
					return nil
				}
				return err
			}, func(err error, attempt int) {
				d.log.Warn("in-app persist attempt failed",
					logger.String("dedup_key", key),
					logger.Int("attempt", attempt),
					logger.Error(err))
			})
			if err != nil {
				d.recorder.PersistFailed(eventType)
				return errors.New(err).
					Component("notification").
					Category(errors.CategoryPersist).
					Priority(priority).
					Context("dedup_key", key).
					Build()
			}
			d.cues.Publish(Cue{Kind: CueNotification, DedupKey: key, Notification: record})
			return nil
		},
	})
}

func (d *Dispatcher) feedback(ctx context.Context, intent *Intent) {
	pattern := FeedbackFor(intent.Priority)
	if pattern == FeedbackNone {
		return
	}
	s := d.gate.Settings(ctx)
	if !s.SoundEnabled && !s.VibrationEnabled {
		return
	}
	d.cues.Publish(Cue{
		Kind:     CueFeedback,
		DedupKey: intent.DedupKey(),
		Pattern:  pattern,
		Sound:    s.SoundEnabled,
		Vibrate:  s.VibrationEnabled,
	})
}

func (d *Dispatcher) sendPush(ctx context.Context, intent *Intent) {
	msg := PushMessage{
		Title:    intent.Title,
		Body:     intent.Body,
		Tag:      intent.DedupKey(),
		Priority: intent.Priority,
		Data: map[string]any{
			"url":         intent.TargetURL,
			"relatedType": intent.RelatedType,
			"relatedId":   intent.RelatedID,
		},
	}
	if intent.Location != nil {
		msg.Data["lat"] = intent.Location.Lat
		msg.Data["lng"] = intent.Location.Lng
	}

	d.log.Info("sending push",
		logger.String("tag", msg.Tag),
		logger.String("priority", string(msg.Priority)))
	d.enqueue(ctx, task{
		name: "push",
		key:  msg.Tag,
		run: func(tctx context.Context) error {
			return d.push.Send(tctx, msg)
		},
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, t task) {
	if err := d.tasks.enqueue(ctx, t); err != nil {
		d.log.Error("notification task dropped at shutdown",
			logger.String("task", t.name),
			logger.String("dedup_key", t.key),
			logger.Error(err))
	}
}
