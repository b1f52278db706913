package streams

import (
	"slices"
	"time"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
)

// LookAfterMeSession is the merged state of one trip-tracking session.
type LookAfterMeSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	IsActive        bool       `json:"isActive"`
	Status          string     `json:"status"`
	Destination     string     `json:"destination"`
	ExpectedArrival *time.Time `json:"expectedArrival,omitempty"`
	LiveLocation    *geo.Point `json:"liveLocation,omitempty"`
	Watchers        []string   `json:"watchers"`
}

// Overdue reports whether an active session has passed its expected arrival.
func (s LookAfterMeSession) Overdue(now time.Time) bool {
	return s.IsActive && s.ExpectedArrival != nil && now.After(*s.ExpectedArrival)
}

// LookAfterMeStream tracks look-after-me sessions.
type LookAfterMeStream struct {
	*Stream[LookAfterMeSession]
}

// NewLookAfterMeStream creates the look-after-me normalizer.
func NewLookAfterMeStream(hub feed.Subscriber, fetcher feed.Fetcher, opts ...Option) *LookAfterMeStream {
	return &LookAfterMeStream{newStream(family[LookAfterMeSession]{
		name:    "lookafterme",
		table:   feed.TableLookAfterMe,
		convert: sessionFromRecord,
		clone:   cloneSession,
	}, hub, fetcher, opts...)}
}

// Watching returns the sessions userID watches.
func (s *LookAfterMeStream) Watching(userID string) []LookAfterMeSession {
	view := s.CurrentView()
	return slices.DeleteFunc(view, func(sess LookAfterMeSession) bool {
		return !slices.Contains(sess.Watchers, userID)
	})
}

func sessionFromRecord(rec feed.Record) (LookAfterMeSession, bool) {
	row, ok := rec.(*feed.LookAfterMeRow)
	if !ok {
		return LookAfterMeSession{}, false
	}
	return LookAfterMeSession{
		ID:              row.ID,
		UserID:          row.UserID,
		IsActive:        row.IsActive,
		Status:          row.Status,
		Destination:     row.Destination,
		ExpectedArrival: row.ExpectedArrival,
		LiveLocation:    row.LiveLocation(),
		Watchers:        slices.Clone(row.WatcherIDs),
	}, true
}

func cloneSession(s LookAfterMeSession) LookAfterMeSession {
	s.Watchers = slices.Clone(s.Watchers)
	if s.ExpectedArrival != nil {
		t := *s.ExpectedArrival
		s.ExpectedArrival = &t
	}
	if s.LiveLocation != nil {
		p := *s.LiveLocation
		s.LiveLocation = &p
	}
	return s
}
