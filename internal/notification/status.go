package notification

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/safetynet-go/internal/feed"
)

// statusTTL bounds how long the last seen status of an entity is remembered.
const statusTTL = 24 * time.Hour

// statusMemory remembers the last status seen per panic, incident and
// look-after-me session. Updates delivered without a usable old row are
// compared against it, so a status repeated after the dedup cooldown is not a
// transition. It belongs to the dispatcher goroutine.
type statusMemory struct {
	seen *cache.Cache
}

func newStatusMemory(ttl time.Duration) *statusMemory {
	if ttl <= 0 {
		ttl = statusTTL
	}
	return &statusMemory{seen: cache.New(ttl, 0)}
}

// observe records the status ev carries and returns ev with its old row filled
// from memory when the feed sent none or only the primary key.
func (m *statusMemory) observe(ev feed.Event) feed.Event {
	if ev.EntityID == "" {
		return ev
	}
	key := string(ev.Table) + ":" + ev.EntityID
	if ev.Kind == feed.Delete {
		m.seen.Delete(key)
		return ev
	}

	status, tracked := statusOf(ev.After)
	if !tracked {
		return ev
	}
	if ev.Kind == feed.Update {
		if before, _ := statusOf(ev.Before); before == "" {
			if last, found := m.seen.Get(key); found {
				ev.Before = withStatus(ev.After, last.(string))
			}
		}
	}
	if status != "" {
		m.seen.Set(key, status, cache.DefaultExpiration)
	}
	return ev
}

func (m *statusMemory) prune() { m.seen.DeleteExpired() }

// statusOf returns the status of r and whether r is a status-bearing row.
func statusOf(r feed.Record) (string, bool) {
	switch row := r.(type) {
	case *feed.PanicAlertRow:
		if row == nil {
			return "", true
		}
		return row.Status, true
	case *feed.IncidentRow:
		if row == nil {
			return "", true
		}
		return row.Status, true
	case *feed.LookAfterMeRow:
		if row == nil {
			return "", true
		}
		return row.Status, true
	}
	return "", false
}

// withStatus returns a copy of r carrying status. The feed's rows are shared
// with other subscribers and are never modified.
func withStatus(r feed.Record, status string) feed.Record {
	switch row := r.(type) {
	case *feed.PanicAlertRow:
		c := *row
		c.Status = status
		return &c
	case *feed.IncidentRow:
		c := *row
		c.Status = status
		return &c
	case *feed.LookAfterMeRow:
		c := *row
		c.Status = status
		return &c
	}
	return r
}
