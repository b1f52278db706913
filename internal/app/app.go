// Package app assembles the SafetyNet pipeline from settings and runs it: the
// change feed, the stream views, the notification dispatcher and the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/safetynet-go/internal/api"
	v1 "github.com/tphakala/safetynet-go/internal/api/v1"
	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/feed/mqttfeed"
	"github.com/tphakala/safetynet-go/internal/feed/restfeed"
	"github.com/tphakala/safetynet-go/internal/geo"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/mqtt"
	"github.com/tphakala/safetynet-go/internal/notification"
	"github.com/tphakala/safetynet-go/internal/observability"
	"github.com/tphakala/safetynet-go/internal/settings"
	"github.com/tphakala/safetynet-go/internal/streams"
	"github.com/tphakala/safetynet-go/internal/telemetry"
)

// retentionInterval is how often expired in-app notifications are purged.
const retentionInterval = time.Hour

// Option customizes an App.
type Option func(*App)

// WithLogger sets the root logger.
func WithLogger(l logger.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithRelease sets the release reported with telemetry events.
func WithRelease(release string) Option {
	return func(a *App) { a.release = release }
}

// WithMQTTClient replaces the broker client built from settings.
func WithMQTTClient(c mqtt.Client) Option {
	return func(a *App) { a.mqttClient = c }
}

// WithFetcher replaces the REST seed fetcher built from settings.
func WithFetcher(f feed.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithClock sets the clock used by the dispatcher, the settings gate and the
// retention job.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// App owns every pipeline component.
type App struct {
	settings *conf.Settings
	log      logger.Logger
	release  string
	clock    clock.Clock

	metrics    *observability.Metrics
	reporter   *telemetry.Reporter
	store      *datastore.Store
	hub        *feed.Hub
	geo        *geo.Context
	mqttClient mqtt.Client
	source     *mqttfeed.Source
	fetcher    feed.Fetcher
	rest       *restfeed.Fetcher

	presence    *streams.PresenceStream
	panics      *streams.PanicStream
	incidents   *streams.IncidentStream
	lookAfterMe *streams.LookAfterMeStream
	messages    *streams.MessageStream

	gate       *settings.Gate
	pusher     *notification.Pusher
	dispatcher *notification.Dispatcher
	server     *api.Server
}

// New builds the pipeline. Nothing runs until Run is called; Close releases
// what New opened.
func New(s *conf.Settings, opts ...Option) (*App, error) {
	if s == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	a := &App{settings: s}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.NewDiscardLogger()
	}
	if a.clock == nil {
		a.clock = clock.WallClock
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	s := a.settings
	var err error

	if a.metrics, err = observability.NewMetrics(); err != nil {
		return err
	}

	if a.reporter, err = telemetry.New(s.Telemetry, telemetry.Options{Release: a.release}, a.log); err != nil {
		return err
	}
	if a.reporter != nil {
		errors.SetTelemetryReporter(a.reporter)
	}

	a.store, err = datastore.Open(datastore.ConfigFromSettings(s.Database), a.log)
	if err != nil {
		return err
	}
	if err := a.metrics.RegisterDatastore(a.store); err != nil {
		a.log.Warn("datastore pool metrics unavailable", logger.Error(err))
	}

	a.hub = feed.NewHub(a.log, feed.WithObserver(a.metrics.Pipeline), feed.WithClock(a.clock))
	a.geo = geo.NewContext()

	if err := a.buildFeeds(); err != nil {
		return err
	}
	a.buildStreams()

	loc, err := s.User.Location()
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("timezone", s.User.Timezone).
			Build()
	}
	a.gate = settings.NewGate(a.store, s.User.ID,
		settings.WithClock(a.clock),
		settings.WithLocation(loc),
		settings.WithLogger(a.log))

	deps := notification.Dependencies{
		Geo:      a.geo,
		Gate:     a.gate,
		Store:    a.store,
		Recorder: a.metrics.Notification,
		Clock:    a.clock,
		Logger:   a.log,
	}
	if s.Notification.Push.Enabled {
		providers, err := notification.BuildProviders(s.Notification.Push, a.log)
		if err != nil {
			return err
		}
		cfg := notification.ConfigFromSettings(s)
		a.pusher = notification.NewPusher(notification.PusherConfig{
			Policy:    cfg.Retry,
			Timeout:   s.Notification.Push.Timeout,
			RateLimit: s.Notification.Push.RateLimit,
			Burst:     s.Notification.Push.Burst,
		}, providers, a.metrics.Notification, a.log)
		deps.Push = a.pusher
	}
	if a.dispatcher, err = notification.NewDispatcher(notification.ConfigFromSettings(s), deps); err != nil {
		return err
	}

	if s.API.Enabled {
		a.server, err = api.New(s,
			api.WithLogger(a.log),
			api.WithMetrics(a.metrics),
			api.WithDependencies(v1.Dependencies{
				Store:    a.store,
				Gate:     a.gate,
				Position: a.geo,
				Client:   a.dispatcher.Client(),
				Cues:     a.dispatcher.Cues(),
				Version:  a.release,
				Views: v1.StreamViews{
					Presence:    a.presence,
					Panic:       a.panics,
					Incidents:   a.incidents,
					LookAfterMe: a.lookAfterMe,
					Messages:    a.messages,
				},
			}),
			api.WithHealthCheck("datastore", a.store.Ping),
			api.WithHealthCheck("mqtt", a.brokerHealth))
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) buildFeeds() error {
	s := a.settings
	if a.mqttClient == nil {
		clientID := s.Feed.MQTT.ClientID
		if clientID == "" {
			clientID = "safetynet-" + s.User.ID
		}
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:         s.Feed.MQTT.Broker,
			ClientID:       clientID,
			Username:       s.Feed.MQTT.Username,
			Password:       s.Feed.MQTT.Password,
			ConnectTimeout: s.Feed.MQTT.ConnectTimeout,
		}, a.log, a.metrics.MQTT)
		if err != nil {
			return err
		}
		a.mqttClient = client
	}
	a.source = mqttfeed.New(a.mqttClient, mqttfeed.Config{
		TopicPrefix:   s.Feed.MQTT.TopicPrefix,
		PositionTopic: s.Feed.MQTT.PositionTopic,
	}, a.hub, a.geo, a.log)

	if a.fetcher == nil {
		rest, err := restfeed.New(restfeed.Config{
			BaseURL:   s.Feed.REST.BaseURL,
			APIKey:    s.Feed.REST.APIKey,
			Timeout:   s.Feed.REST.Timeout,
			RateLimit: s.Feed.REST.RateLimit,
		}, a.log)
		if err != nil {
			return err
		}
		rest.ObserveRequests(a.metrics.HTTP.ClientHook("restfeed"))
		a.rest = rest
		a.fetcher = rest
	}
	return nil
}

func (a *App) buildStreams() {
	opts := []streams.Option{
		streams.WithLogger(a.log),
		streams.WithObserver(a.metrics.Pipeline),
	}
	a.presence = streams.NewPresenceStream(a.hub, a.fetcher, opts...)
	a.panics = streams.NewPanicStream(a.hub, a.fetcher, opts...)
	a.incidents = streams.NewIncidentStream(a.hub, a.fetcher, opts...)
	a.lookAfterMe = streams.NewLookAfterMeStream(a.hub, a.fetcher, opts...)
	a.messages = streams.NewMessageStream(a.hub, a.fetcher, opts...)
}

func (a *App) brokerHealth(context.Context) error {
	if !a.mqttClient.IsConnected() {
		return errors.NewStd("broker disconnected")
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled or a component
// fails. The views and the dispatcher subscribe to the feed before the broker
// connects so no change is missed.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subscribers := []interface {
		Subscribe(ctx context.Context, filter feed.Filter) (*streams.Handle, error)
	}{a.presence, a.panics, a.incidents, a.lookAfterMe, a.messages}
	for _, st := range subscribers {
		h, err := st.Subscribe(ctx, feed.Filter{})
		if err != nil {
			return err
		}
		defer h.Unsubscribe()
	}

	sub := a.dispatcher.Subscribe(ctx, a.hub)
	defer sub.Unsubscribe()

	if err := a.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	defer a.source.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Run(ctx) })
	}
	if a.settings.Notification.Retention > 0 {
		g.Go(func() error {
			a.retain(ctx, a.settings.Notification.Retention)
			return nil
		})
	}

	a.log.Info("safetynet running",
		logger.String("user_id", a.settings.User.ID),
		logger.String("change_topic", a.source.ChangeTopic()),
		logger.Bool("api", a.server != nil),
		logger.Bool("push", a.pusher != nil))

	err := g.Wait()
	a.log.Info("safetynet stopped")
	return err
}

// retain purges in-app notifications older than maxAge, once at start and then
// every retentionInterval.
func (a *App) retain(ctx context.Context, maxAge time.Duration) {
	for {
		deleted, err := a.store.DeleteNotificationsBefore(ctx, a.clock.Now().Add(-maxAge))
		switch {
		case err != nil && ctx.Err() == nil:
			a.log.Warn("notification retention failed", logger.Error(err))
		case deleted > 0:
			a.log.Info("expired notifications purged", logger.Int64("deleted", deleted))
		}

		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(retentionInterval):
		}
	}
}

// Close releases every resource. It is safe to call after a failed New.
func (a *App) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.pusher != nil {
		a.pusher.Close()
	}
	if a.rest != nil {
		a.rest.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close datastore", logger.Error(err))
		}
	}
	if a.reporter != nil {
		a.reporter.Flush()
		errors.SetTelemetryReporter(nil)
	}
}

// Store returns the in-app notification and settings store.
func (a *App) Store() *datastore.Store { return a.store }

// Server returns the HTTP server, nil when the API is disabled.
func (a *App) Server() *api.Server { return a.server }

// Gate returns the settings gate.
func (a *App) Gate() *settings.Gate { return a.gate }
