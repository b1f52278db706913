// Package feed is the change-feed boundary. Raw change envelopes are decoded once,
// at ingestion, into typed Events and fanned out to independent subscribers.
package feed

import (
	"context"
	"encoding/json"
	"time"
)

// Table names a tracked entity table in the backing store.
type Table string

const (
	TablePresence          Table = "user_presence"
	TablePanicAlerts       Table = "panic_alerts"
	TablePanicLocationLogs Table = "panic_location_logs"
	TableIncidents         Table = "incidents"
	TableLookAfterMe       Table = "look_after_me_sessions"
	TableMessages          Table = "messages"
)

// Tables lists every table the pipeline understands.
var Tables = []Table{
	TablePresence,
	TablePanicAlerts,
	TablePanicLocationLogs,
	TableIncidents,
	TableLookAfterMe,
	TableMessages,
}

// Known reports whether t is a tracked table.
func (t Table) Known() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// ChangeKind is the kind of row change.
type ChangeKind string

const (
	Insert ChangeKind = "insert"
	Update ChangeKind = "update"
	Delete ChangeKind = "delete"
)

// Change is the wire envelope published by the backing store for one row change.
// Delivery is at-least-once.
type Change struct {
	Type            string          `json:"type"` // INSERT, UPDATE or DELETE
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Event is a validated domain event. Before is nil when the feed did not carry the
// previous row; After is nil for deletes.
type Event struct {
	Table      Table
	EntityID   string
	Kind       ChangeKind
	Before     Record
	After      Record
	OccurredAt time.Time

	columns map[string]any
}

// Current returns the row describing the entity after the change, or the
// deleted row for deletes.
func (e Event) Current() Record {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// ActorID returns the user who authored the change.
func (e Event) ActorID() string {
	if r := e.Current(); r != nil {
		return r.ActorID()
	}
	return ""
}

// Handler receives events for one subscription, one at a time and in feed order.
type Handler func(Event)

// Subscriber is the change-feed subscription API.
type Subscriber interface {
	Subscribe(name string, tables []Table, filter Filter, handler Handler) *Subscription
}

// Fetcher performs full fetches of a table, used to seed stream views.
type Fetcher interface {
	Fetch(ctx context.Context, table Table, filter Filter) ([]Record, error)
}

// Observer receives ingestion statistics. The metrics package implements it.
type Observer interface {
	EventReceived(table Table, kind ChangeKind)
	EventDropped(table, reason string)
}

type nopObserver struct{}

func (nopObserver) EventReceived(Table, ChangeKind) {}
func (nopObserver) EventDropped(string, string)     {}
