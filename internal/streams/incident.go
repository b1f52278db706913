package streams

import (
	"time"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
)

// IncidentReport is the merged state of one incident or amber alert.
type IncidentReport struct {
	ID          string    `json:"id"`
	ReporterID  string    `json:"reporterId"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    geo.Point `json:"location"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsAmber reports whether the incident is a missing-person alert.
func (r IncidentReport) IsAmber() bool {
	return r.Type == feed.IncidentTypeAmber
}

// IncidentStream tracks incidents. Its view is not proximity filtered: incidents
// far away still appear here even though they never notify.
type IncidentStream struct {
	*Stream[IncidentReport]
}

// NewIncidentStream creates the incident normalizer.
func NewIncidentStream(hub feed.Subscriber, fetcher feed.Fetcher, opts ...Option) *IncidentStream {
	return &IncidentStream{newStream(family[IncidentReport]{
		name:    "incident",
		table:   feed.TableIncidents,
		convert: incidentFromRecord,
	}, hub, fetcher, opts...)}
}

// Near returns visible incidents within radiusMeters of p.
func (s *IncidentStream) Near(p geo.Point, radiusMeters float64) []IncidentReport {
	var out []IncidentReport
	for _, r := range s.CurrentView() {
		if geo.DistanceMeters(p, r.Location) <= radiusMeters {
			out = append(out, r)
		}
	}
	return out
}

func incidentFromRecord(rec feed.Record) (IncidentReport, bool) {
	row, ok := rec.(*feed.IncidentRow)
	if !ok {
		return IncidentReport{}, false
	}
	return IncidentReport{
		ID:          row.ID,
		ReporterID:  row.UserID,
		Type:        row.Type,
		Status:      row.Status,
		Title:       row.Title,
		Description: row.Description,
		Location:    row.Location(),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, true
}
