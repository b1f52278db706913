package settings

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const loadTimeout = 2 * time.Second

// Store persists settings per user. found is false when the user has none yet.
type Store interface {
	LoadSettings(ctx context.Context, userID string) (s Settings, found bool, err error)
	SaveSettings(ctx context.Context, userID string, s Settings) error
}

// Gate owns the user's settings and answers whether a notification of a given
// tier may be delivered now.
type Gate struct {
	store    Store
	userID   string
	clock    clock.Clock
	location *time.Location
	log      logger.Logger

	mu     sync.RWMutex
	cached *Settings
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the clock used for quiet hours.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLocation sets the user's timezone for quiet hours.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) { g.location = loc }
}

// WithLogger sets the gate logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// NewGate creates a gate for userID. A nil store keeps settings in memory only.
func NewGate(store Store, userID string, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		userID:   userID,
		clock:    clock.WallClock,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.NewDiscardLogger()
	}
	g.log = g.log.Module("settings")
	return g
}

// ShouldNotify is the admission predicate. A high tier with the emergency
// override always passes. Otherwise nothing passes during quiet hours, and
// outside them the push flag decides.
func (g *Gate) ShouldNotify(tier Tier) bool {
	s := g.current()

	if tier == TierHigh && s.PanicOverride {
		return true
	}
	if s.QuietHours.Contains(g.clock.Now().In(g.location)) {
		return false
	}
	return s.PushEnabled
}

// Settings returns the current settings, loading them on first use.
func (g *Gate) Settings(ctx context.Context) Settings {
	g.mu.RLock()
	cached := g.cached
	g.mu.RUnlock()
	if cached != nil {
		return *cached
	}
	return g.load(ctx)
}

// Update validates, persists and applies new settings.
func (g *Gate) Update(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return errors.New(err).
			Component("settings").
			Category(errors.CategoryValidation).
			Build()
	}
	if g.store != nil {
		if err := g.store.SaveSettings(ctx, g.userID, s); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.cached = &s
	g.mu.Unlock()

	g.log.Info("notification settings updated",
		logger.Bool("push", s.PushEnabled),
		logger.Bool("panic_override", s.PanicOverride),
		logger.Bool("quiet_hours", s.QuietHours.Enabled))
	return nil
}

func (g *Gate) current() Settings {
	g.mu.RLock()
	cached := g.cached
	g.mu.RUnlock()
	if cached != nil {
		return *cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	return g.load(ctx)
}

// load reads settings from the store, creating the defaults on first access.
// A failed read answers with defaults without caching them, so the next call
// retries.
func (g *Gate) load(ctx context.Context) Settings {
	if g.store == nil {
		return g.cache(Defaults())
	}

	s, found, err := g.store.LoadSettings(ctx, g.userID)
	if err != nil {
		g.log.Warn("settings unavailable, using defaults", logger.Error(err))
		return Defaults()
	}
	if !found {
		s = Defaults()
		if err := g.store.SaveSettings(ctx, g.userID, s); err != nil {
			g.log.Warn("failed to persist default settings", logger.Error(err))
		}
	}
	return g.cache(s)
}

func (g *Gate) cache(s Settings) Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached == nil {
		g.cached = &s
	}
	return *g.cached
}
