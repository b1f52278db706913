package streams

import (
	"slices"
	"time"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
)

// Bounds for location logs that arrive before their alert.
const (
	maxPendingAlerts = 64
	maxPendingPoints = 256
)

// PathPoint is one movement sample of a panic alert.
type PathPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

func comparePoints(a, b PathPoint) int {
	return a.Timestamp.Compare(b.Timestamp)
}

// PanicAlert is the merged state of one panic session.
type PanicAlert struct {
	ID                string      `json:"id"`
	UserID            string      `json:"userId"`
	Status            string      `json:"status"`
	Message           string      `json:"message,omitempty"`
	InitialLocation   geo.Point   `json:"initialLocation"`
	LastKnownLocation geo.Point   `json:"lastKnownLocation"`
	LastKnownAt       time.Time   `json:"lastKnownAt"`
	MovementPath      []PathPoint `json:"movementPath"`
	CreatedAt         time.Time   `json:"createdAt"`
	EndedAt           *time.Time  `json:"endedAt,omitempty"`

	// reported is the location on the latest alert row.
	reported geo.Point
}

// Active reports whether the alert is still running.
func (a *PanicAlert) Active() bool {
	return a.Status == feed.StatusActive
}

// addPoint inserts p keeping the path sorted by time. A point whose timestamp is
// already on the path is rejected.
func (a *PanicAlert) addPoint(p PathPoint) bool {
	i, found := slices.BinarySearchFunc(a.MovementPath, p, comparePoints)
	if found {
		return false
	}
	a.MovementPath = slices.Insert(a.MovementPath, i, p)
	if !p.Timestamp.Before(a.LastKnownAt) {
		a.LastKnownLocation = geo.Point{Lat: p.Lat, Lng: p.Lng}
		a.LastKnownAt = p.Timestamp
	}
	return true
}

// PanicStream tracks panic alerts and their movement paths.
type PanicStream struct {
	*Stream[PanicAlert]
	paths *pathTracker
}

// NewPanicStream creates the panic-alert normalizer. Movement arrives on the
// location-log table and is merged into the owning alert without refetching it.
func NewPanicStream(hub feed.Subscriber, fetcher feed.Fetcher, opts ...Option) *PanicStream {
	paths := &pathTracker{pending: make(map[string][]PathPoint)}
	return &PanicStream{
		Stream: newStream(family[PanicAlert]{
			name:    "panic",
			table:   feed.TablePanicAlerts,
			convert: panicFromRecord,
			merge:   mergePanic,
			clone:   clonePanic,
			ext:     paths,
		}, hub, fetcher, opts...),
		paths: paths,
	}
}

// RejectedPoints returns how many duplicate movement points were discarded.
func (p *PanicStream) RejectedPoints() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paths.rejected
}

// ActiveAlerts returns the alerts that have not ended.
func (p *PanicStream) ActiveAlerts() []PanicAlert {
	view := p.CurrentView()
	return slices.DeleteFunc(view, func(a PanicAlert) bool { return !a.Active() })
}

func panicFromRecord(rec feed.Record) (PanicAlert, bool) {
	row, ok := rec.(*feed.PanicAlertRow)
	if !ok {
		return PanicAlert{}, false
	}
	loc := row.Location()
	return PanicAlert{
		ID:                row.ID,
		UserID:            row.UserID,
		Status:            row.Status,
		Message:           row.Message,
		InitialLocation:   loc,
		LastKnownLocation: loc,
		LastKnownAt:       row.Version(),
		CreatedAt:         row.CreatedAt,
		EndedAt:           row.EndedAt,
		reported:          loc,
	}, true
}

// mergePanic keeps the accumulated path and the first reported location. A row
// update moves the last known location only when its coordinates changed; a
// status change does not outrank the newest path point.
func mergePanic(prev, next PanicAlert) PanicAlert {
	next.MovementPath = prev.MovementPath
	next.InitialLocation = prev.InitialLocation
	if next.reported == prev.reported || prev.LastKnownAt.After(next.LastKnownAt) {
		next.LastKnownLocation = prev.LastKnownLocation
		next.LastKnownAt = prev.LastKnownAt
	}
	return next
}

func clonePanic(a PanicAlert) PanicAlert {
	a.MovementPath = slices.Clone(a.MovementPath)
	if a.EndedAt != nil {
		t := *a.EndedAt
		a.EndedAt = &t
	}
	return a
}

// pathTracker merges location logs into alerts. Logs for an alert the stream has
// not seen yet are held, bounded, until the alert arrives.
type pathTracker struct {
	pending  map[string][]PathPoint
	order    []string
	rejected int
}

func (t *pathTracker) table() feed.Table {
	return feed.TablePanicLocationLogs
}

func (t *pathTracker) apply(lookup func(string) (*PanicAlert, bool), ev feed.Event, live bool) (string, bool) {
	if ev.Kind == feed.Delete {
		return "", false
	}
	row, ok := ev.After.(*feed.LocationLogRow)
	if !ok {
		return "", false
	}
	p := PathPoint{Lat: row.Lat, Lng: row.Lng, Timestamp: row.RecordedAt}

	alert, ok := lookup(row.AlertID)
	if !ok {
		if live {
			t.hold(row.AlertID, p)
		}
		return "", false
	}
	if !alert.addPoint(p) {
		t.rejected++
		return "", false
	}
	return row.AlertID, true
}

func (t *pathTracker) hold(alertID string, p PathPoint) {
	points, ok := t.pending[alertID]
	if !ok {
		if len(t.order) >= maxPendingAlerts {
			delete(t.pending, t.order[0])
			t.order = t.order[1:]
		}
		t.order = append(t.order, alertID)
	}
	if len(points) >= maxPendingPoints {
		points = points[1:]
	}
	t.pending[alertID] = append(points, p)
}

func (t *pathTracker) attached(id string, alert *PanicAlert) {
	points, ok := t.pending[id]
	if !ok {
		return
	}
	for _, p := range points {
		if !alert.addPoint(p) {
			t.rejected++
		}
	}
	t.removed(id)
}

func (t *pathTracker) removed(id string) {
	delete(t.pending, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

func (t *pathTracker) reset() {
	t.pending = make(map[string][]PathPoint)
	t.order = nil
	t.rejected = 0
}
