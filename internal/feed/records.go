package feed

import (
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/safetynet-go/internal/geo"
)

// Record is a decoded row of one tracked table. The set of implementations is
// closed: one row type per entity family.
type Record interface {
	// EntityID is the row's primary key.
	EntityID() string
	// ActorID is the user who authored the row or its latest change.
	ActorID() string
	// Version orders successive states of the same row.
	Version() time.Time

	table() Table
	validate() error
}

// Status values shared by the entity families.
const (
	StatusActive    = "active"
	StatusEnded     = "ended"
	StatusHandling  = "handling"
	StatusResolved  = "resolved"
	StatusLate      = "late"
	StatusArrived   = "arrived"
	StatusCancelled = "cancelled"

	// IncidentTypeAmber marks a missing-person alert filed as an incident.
	IncidentTypeAmber = "amber"
)

func version(created, updated time.Time) time.Time {
	if !updated.IsZero() {
		return updated
	}
	return created
}

func requireID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s: missing id", kind)
	}
	return nil
}

func requirePoint(kind string, lat, lng float64) error {
	if !(geo.Point{Lat: lat, Lng: lng}).Valid() {
		return fmt.Errorf("%s: coordinate %f,%f out of range", kind, lat, lng)
	}
	return nil
}

func requireOneOf(kind, field, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("%s: unexpected %s %q", kind, field, value)
	}
	return nil
}

// PresenceRow is a row of user_presence.
type PresenceRow struct {
	UserID    string    `json:"user_id"`
	Online    bool      `json:"is_online"`
	GhostMode bool      `json:"ghost_mode"`
	Lat       *float64  `json:"latitude"`
	Lng       *float64  `json:"longitude"`
	Movement  string    `json:"movement_status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *PresenceRow) EntityID() string   { return r.UserID }
func (r *PresenceRow) ActorID() string    { return r.UserID }
func (r *PresenceRow) Version() time.Time { return r.UpdatedAt }
func (r *PresenceRow) table() Table       { return TablePresence }

// Location returns the row's position when both coordinates are present.
func (r *PresenceRow) Location() *geo.Point {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *r.Lat, Lng: *r.Lng}
}

func (r *PresenceRow) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("presence: missing user_id")
	}
	if p := r.Location(); p != nil && !p.Valid() {
		return fmt.Errorf("presence: coordinate out of range")
	}
	return nil
}

// PanicAlertRow is a row of panic_alerts.
type PanicAlertRow struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Status    string     `json:"status"`
	Lat       float64    `json:"latitude"`
	Lng       float64    `json:"longitude"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

func (r *PanicAlertRow) EntityID() string   { return r.ID }
func (r *PanicAlertRow) ActorID() string    { return r.UserID }
func (r *PanicAlertRow) Version() time.Time { return version(r.CreatedAt, r.UpdatedAt) }
func (r *PanicAlertRow) table() Table       { return TablePanicAlerts }

// Location returns the alert's current position.
func (r *PanicAlertRow) Location() geo.Point { return geo.Point{Lat: r.Lat, Lng: r.Lng} }

func (r *PanicAlertRow) validate() error {
	if err := requireID("panic alert", r.ID); err != nil {
		return err
	}
	if r.UserID == "" {
		return fmt.Errorf("panic alert: missing user_id")
	}
	if err := requireOneOf("panic alert", "status", r.Status, StatusActive, StatusEnded); err != nil {
		return err
	}
	return requirePoint("panic alert", r.Lat, r.Lng)
}

// LocationLogRow is a row of panic_location_logs: one movement sample of an active alert.
type LocationLogRow struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"panic_alert_id"`
	UserID     string    `json:"user_id"`
	Lat        float64   `json:"latitude"`
	Lng        float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (r *LocationLogRow) EntityID() string   { return r.ID }
func (r *LocationLogRow) ActorID() string    { return r.UserID }
func (r *LocationLogRow) Version() time.Time { return r.RecordedAt }
func (r *LocationLogRow) table() Table       { return TablePanicLocationLogs }

func (r *LocationLogRow) validate() error {
	if err := requireID("location log", r.ID); err != nil {
		return err
	}
	if r.AlertID == "" {
		return fmt.Errorf("location log: missing panic_alert_id")
	}
	if r.RecordedAt.IsZero() {
		return fmt.Errorf("location log: missing recorded_at")
	}
	return requirePoint("location log", r.Lat, r.Lng)
}

// IncidentRow is a row of incidents, covering map markers and amber alerts.
type IncidentRow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UpdatedBy   string    `json:"updated_by"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Lat         float64   `json:"latitude"`
	Lng         float64   `json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *IncidentRow) EntityID() string { return r.ID }

// ActorID is the last editor when known, otherwise the reporter.
func (r *IncidentRow) ActorID() string {
	if r.UpdatedBy != "" {
		return r.UpdatedBy
	}
	return r.UserID
}

func (r *IncidentRow) Version() time.Time { return version(r.CreatedAt, r.UpdatedAt) }
func (r *IncidentRow) table() Table       { return TableIncidents }

// IsAmber reports whether the incident is a missing-person alert.
func (r *IncidentRow) IsAmber() bool { return r.Type == IncidentTypeAmber }

// Location returns the incident position.
func (r *IncidentRow) Location() geo.Point { return geo.Point{Lat: r.Lat, Lng: r.Lng} }

func (r *IncidentRow) validate() error {
	if err := requireID("incident", r.ID); err != nil {
		return err
	}
	if r.Type == "" {
		return fmt.Errorf("incident: missing type")
	}
	if err := requireOneOf("incident", "status", r.Status, StatusActive, StatusHandling, StatusResolved); err != nil {
		return err
	}
	return requirePoint("incident", r.Lat, r.Lng)
}

// LookAfterMeRow is a row of look_after_me_sessions.
type LookAfterMeRow struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Status          string     `json:"status"`
	IsActive        bool       `json:"is_active"`
	Destination     string     `json:"destination"`
	ExpectedArrival *time.Time `json:"expected_arrival"`
	Lat             *float64   `json:"current_latitude"`
	Lng             *float64   `json:"current_longitude"`
	WatcherIDs      []string   `json:"watcher_ids"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (r *LookAfterMeRow) EntityID() string   { return r.ID }
func (r *LookAfterMeRow) ActorID() string    { return r.UserID }
func (r *LookAfterMeRow) Version() time.Time { return version(r.CreatedAt, r.UpdatedAt) }
func (r *LookAfterMeRow) table() Table       { return TableLookAfterMe }

// LiveLocation returns the traveller's current position when reported.
func (r *LookAfterMeRow) LiveLocation() *geo.Point {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *r.Lat, Lng: *r.Lng}
}

// Watches reports whether userID is one of the session's watchers.
func (r *LookAfterMeRow) Watches(userID string) bool {
	return slices.Contains(r.WatcherIDs, userID)
}

func (r *LookAfterMeRow) validate() error {
	if err := requireID("look-after-me", r.ID); err != nil {
		return err
	}
	if r.UserID == "" {
		return fmt.Errorf("look-after-me: missing user_id")
	}
	if err := requireOneOf("look-after-me", "status", r.Status,
		StatusActive, StatusLate, StatusArrived, StatusCancelled); err != nil {
		return err
	}
	if p := r.LiveLocation(); p != nil && !p.Valid() {
		return fmt.Errorf("look-after-me: coordinate out of range")
	}
	return nil
}

// MessageRow is a row of messages.
type MessageRow struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *MessageRow) EntityID() string   { return r.ID }
func (r *MessageRow) ActorID() string    { return r.SenderID }
func (r *MessageRow) Version() time.Time { return r.CreatedAt }
func (r *MessageRow) table() Table       { return TableMessages }

func (r *MessageRow) validate() error {
	if err := requireID("message", r.ID); err != nil {
		return err
	}
	if r.ThreadID == "" || r.SenderID == "" {
		return fmt.Errorf("message: missing thread_id or sender_id")
	}
	return nil
}
