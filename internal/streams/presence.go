package streams

import (
	"time"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
)

// PresenceRecord is the merged presence of one user.
type PresenceRecord struct {
	UserID    string     `json:"userId"`
	Online    bool       `json:"online"`
	GhostMode bool       `json:"ghostMode"`
	Location  *geo.Point `json:"location,omitempty"`
	Movement  string     `json:"movement"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PresenceStream exposes only users outside ghost mode. The raw records, ghosts
// included, stay inside the stream.
type PresenceStream struct {
	*Stream[PresenceRecord]
}

// NewPresenceStream creates the presence normalizer.
func NewPresenceStream(hub feed.Subscriber, fetcher feed.Fetcher, opts ...Option) *PresenceStream {
	return &PresenceStream{newStream(family[PresenceRecord]{
		name:    "presence",
		table:   feed.TablePresence,
		convert: presenceFromRecord,
		visible: func(p PresenceRecord) bool { return !p.GhostMode },
		clone:   clonePresence,
	}, hub, fetcher, opts...)}
}

// OnlineCount returns the number of visible online users.
func (p *PresenceStream) OnlineCount() int {
	n := 0
	for _, rec := range p.CurrentView() {
		if rec.Online {
			n++
		}
	}
	return n
}

func presenceFromRecord(rec feed.Record) (PresenceRecord, bool) {
	row, ok := rec.(*feed.PresenceRow)
	if !ok {
		return PresenceRecord{}, false
	}
	return PresenceRecord{
		UserID:    row.UserID,
		Online:    row.Online,
		GhostMode: row.GhostMode,
		Location:  row.Location(),
		Movement:  row.Movement,
		UpdatedAt: row.UpdatedAt,
	}, true
}

func clonePresence(p PresenceRecord) PresenceRecord {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}
