package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const (
	defaultPushTimeout = 30 * time.Second
	defaultPushRate    = 2.0
	defaultPushBurst   = 5
)

// PushMessage is one push delivery. Tag equals the dedup key so the device can
// collapse duplicates.
type PushMessage struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Tag      string         `json:"tag"`
	Priority Priority       `json:"priority"`
	Data     map[string]any `json:"data,omitempty"`
}

// Provider is a push delivery backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg PushMessage) error
}

// PushSender delivers a message through every configured provider.
type PushSender interface {
	Send(ctx context.Context, msg PushMessage) error
	Providers() []string
}

type registeredProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// Pusher fans a message out to its providers, pacing each provider with its own
// token bucket and retrying transient failures.
type Pusher struct {
	providers []registeredProvider
	policy    RetryPolicy
	timeout   time.Duration
	recorder  Recorder
	log       logger.Logger
}

// PusherConfig configures a Pusher.
type PusherConfig struct {
	Policy  RetryPolicy
	Timeout time.Duration // per attempt
	// RateLimit is sends per second per provider; Burst is the bucket size.
	RateLimit float64
	Burst     int
}

// NewPusher creates a pusher over providers. A nil recorder disables metrics.
func NewPusher(cfg PusherConfig, providers []Provider, recorder Recorder, log logger.Logger) *Pusher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPushTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultPushRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultPushBurst
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	p := &Pusher{
		policy:   cfg.Policy,
		timeout:  cfg.Timeout,
		recorder: recorder,
		log:      log.Module("push"),
	}
	for _, prov := range providers {
		p.providers = append(p.providers, registeredProvider{
			provider: prov,
			limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		})
	}
	return p
}

// Providers returns the provider names.
func (p *Pusher) Providers() []string {
	names := make([]string, 0, len(p.providers))
	for _, rp := range p.providers {
		names = append(names, rp.provider.Name())
	}
	return names
}

// Send delivers msg through all providers concurrently. It returns nil when at
// least one provider accepted the message.
func (p *Pusher) Send(ctx context.Context, msg PushMessage) error {
	if len(p.providers) == 0 {
		return errors.Newf("no push providers configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := range p.providers {
		rp := &p.providers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.sendOne(ctx, rp, msg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", rp.provider.Name(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) < len(p.providers) {
		return nil
	}
	return errors.Join(errs...)
}

func (p *Pusher) sendOne(ctx context.Context, rp *registeredProvider, msg PushMessage) error {
	name := rp.provider.Name()
	start := time.Now()

	err := p.policy.do(ctx, func() error {
		if err := rp.limiter.Wait(ctx); err != nil {
			return permanent(err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return rp.provider.Send(attemptCtx, msg)
	}, func(err error, attempt int) {
		p.log.Warn("push attempt failed",
			logger.String("provider", name),
			logger.String("tag", msg.Tag),
			logger.Int("attempt", attempt),
			logger.Error(err))
	})

	p.recorder.PushSent(name, msg.Priority, err, time.Since(start))
	if err == nil {
		p.log.Debug("push delivered",
			logger.String("provider", name),
			logger.String("tag", msg.Tag),
			logger.Duration("elapsed", time.Since(start)))
		return nil
	}

	priority := errors.PriorityMedium
	if msg.Priority == PriorityCritical {
		priority = errors.PriorityCritical
	}
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryPushDelivery).
		Priority(priority).
		Context("provider", name).
		Context("tag", msg.Tag).
		Context("notification_priority", string(msg.Priority)).
		Build()
}

// Close releases provider resources.
func (p *Pusher) Close() {
	for _, rp := range p.providers {
		if c, ok := rp.provider.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// BuildProviders creates the enabled providers from configuration. Invalid
// providers are reported together.
func BuildProviders(cfg conf.PushSettings, log logger.Logger) ([]Provider, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	var (
		providers []Provider
		errs      []error
	)
	for i, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		name := strings.TrimSpace(pc.Name)
		if name == "" {
			name = fmt.Sprintf("%s-%d", pc.Type, i)
		}

		var (
			prov Provider
			err  error
		)
		switch strings.ToLower(pc.Type) {
		case "webhook":
			prov, err = NewWebhookProvider(WebhookConfig{
				Name:    name,
				URL:     pc.URL,
				Headers: pc.Headers,
				Timeout: cfg.Timeout,
			})
		case "shoutrrr":
			prov, err = NewShoutrrrProvider(name, pc.URLs, cfg.Timeout)
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("push provider %s: %w", name, err))
			continue
		}
		log.Info("push provider registered",
			logger.String("provider", name),
			logger.String("type", pc.Type))
		providers = append(providers, prov)
	}

	if len(errs) > 0 {
		return providers, errors.New(errors.Join(errs...)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return providers, nil
}
