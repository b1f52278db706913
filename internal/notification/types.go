// Package notification decides, for every domain event, whether the observing user
// is notified, through which channels, at what priority and how often.
//
// The Dispatcher is a single actor: events are queued on one inbound channel and
// handled one at a time, so the dedup and throttle state it owns needs no locking.
// In-app persistence and push delivery run as asynchronous tasks with bounded retry.
package notification

import (
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/geo"
	"github.com/tphakala/safetynet-go/internal/settings"
)

// Priority is the urgency of a notification. It selects channels, the settings
// tier and the feedback pattern.
type Priority string

const (
	// PriorityCritical is reserved for panic alerts. It bypasses the push throttle.
	PriorityCritical Priority = "critical"
	// PriorityImportant covers nearby incidents, amber alerts and alert endings.
	PriorityImportant Priority = "important"
	// PriorityInfo is in-app only.
	PriorityInfo Priority = "info"
)

// Tier maps the priority to the settings gate tier.
func (p Priority) Tier() settings.Tier {
	switch p {
	case PriorityCritical:
		return settings.TierHigh
	case PriorityImportant:
		return settings.TierNormal
	default:
		return settings.TierLow
	}
}

// Event types used in dedup keys and in-app records.
const (
	EventPanicCreated         = "panic_created"
	EventPanicEnded           = "panic_ended"
	EventIncidentCreated      = "incident_created"
	EventAmberCreated         = "amber_created"
	EventLookAfterMeStarted   = "look_after_me_started"
	eventIncidentStatusPrefix = "incident_status_"
	eventLookAfterMePrefix    = "look_after_me_"
)

// Related entity types stored with in-app records.
const (
	RelatedPanic       = "panic"
	RelatedIncident    = "incident"
	RelatedLookAfterMe = "look_after_me"
)

// Channels selects the delivery sinks for an intent.
type Channels struct {
	Push  bool
	InApp bool
}

// Intent is a classified notification before the dispatcher's gates.
type Intent struct {
	EventType   string
	RelatedType string
	RelatedID   string
	// Kind is the in-app notification type: panic, incident, amber or look_after_me.
	Kind      string
	Title     string
	Body      string
	Priority  Priority
	Channels  Channels
	TargetURL string
	Location  *geo.Point
	// GeoFiltered is set for incident creation, the only rule bound to proximity.
	GeoFiltered bool
}

// DedupKey identifies the logical event: relatedType:relatedId:eventType.
func (i *Intent) DedupKey() string {
	return i.RelatedType + ":" + i.RelatedID + ":" + i.EventType
}

// Outcome is the dispatcher's verdict for one event.
type Outcome string

const (
	OutcomeSelf         Outcome = "self"
	OutcomeUnclassified Outcome = "unclassified"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeOutOfRange   Outcome = "out_of_range"
	OutcomeMuted        Outcome = "muted"
	OutcomeInApp        Outcome = "in_app"
	OutcomePushed       Outcome = "pushed"
)

// Decision records how one event was handled.
type Decision struct {
	Outcome Outcome
	Intent  *Intent
	// PushSkipped names the push gate that held a push-eligible intent back.
	PushSkipped string
}

// Push gate reasons reported in Decision.PushSkipped.
const (
	skipNoProviders = "no_providers"
	skipThrottled   = "throttled"
	skipPermission  = "permission_denied"
	skipForeground  = "foreground"
)

// ErrDispatcherStopped is returned by OnDomainEvent once the dispatcher has stopped.
var ErrDispatcherStopped = errors.Newf("notification dispatcher stopped").
	Component("notification").
	Category(errors.CategoryState).
	Build()
