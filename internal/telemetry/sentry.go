// Package telemetry reports high priority pipeline errors to Sentry. Reporting
// is opt-in: nothing is sent unless a DSN is configured.
package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const flushTimeout = 2 * time.Second

// Reporter implements errors.TelemetryReporter on a private Sentry hub. Only
// high and critical errors are sent; everything else stays in the logs.
type Reporter struct {
	hub *sentry.Hub
	log logger.Logger
}

var _ errors.TelemetryReporter = (*Reporter)(nil)

// Options configures a Reporter beyond the settings file.
type Options struct {
	Release string
	// Transport replaces the HTTP transport; tests capture events with it.
	Transport sentry.Transport
}

// New creates a reporter from settings. It returns nil without error when
// telemetry is disabled.
func New(settings conf.TelemetrySettings, opts Options, log logger.Logger) (*Reporter, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("telemetry")

	if !settings.Enabled || settings.DSN == "" {
		log.Info("error telemetry disabled")
		return nil, nil
	}

	environment := settings.Environment
	if environment == "" {
		environment = "production"
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      environment,
		Release:          opts.Release,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "", // never leak the hostname
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	log.Info("error telemetry enabled", logger.String("environment", environment))
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope()), log: log}, nil
}

// IsEnabled reports whether the reporter sends anything.
func (r *Reporter) IsEnabled() bool {
	return r != nil && r.hub != nil
}

// ReportError sends ee to Sentry when its priority is high or critical.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() || ee == nil {
		return
	}
	priority := ee.GetPriority()
	if priority != errors.PriorityHigh && priority != errors.PriorityCritical {
		return
	}

	message := errors.ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("priority", priority)
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = errors.ScrubMessage(s)
			}
			scope.SetContext(key, sentry.Context{"value": value})
		}
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		level := sentry.LevelError
		if priority == errors.PriorityCritical {
			level = sentry.LevelFatal
		}
		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		r.hub.CaptureEvent(event)
	})
}

// Flush waits for queued events to be sent.
func (r *Reporter) Flush() {
	if !r.IsEnabled() {
		return
	}
	if !r.hub.Flush(flushTimeout) {
		r.log.Warn("telemetry flush timed out")
	}
}

// errorTitle builds the grouping title, for example "Notification Push Delivery Send".
func errorTitle(ee *errors.EnhancedError) string {
	caser := cases.Title(language.English)
	var parts []string
	if c := ee.GetComponent(); c != "" && c != errors.ComponentUnknown {
		parts = append(parts, caser.String(c))
	}
	if ee.Category != "" {
		parts = append(parts, caser.String(strings.ReplaceAll(string(ee.Category), "-", " ")))
	}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, caser.String(strings.ReplaceAll(op, "_", " ")))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

// applyPrivacyFilters removes host, user and runtime details from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		delete(event.Extra, k)
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
