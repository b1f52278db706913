package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/geo"
	"github.com/tphakala/safetynet-go/internal/streams"
)

// View is the exposed view of one normalized stream.
type View[T any] interface {
	CurrentView() []T
	Seeded() (bool, error)
}

// PanicView adds the active-alert selection.
type PanicView interface {
	View[streams.PanicAlert]
	ActiveAlerts() []streams.PanicAlert
}

// IncidentView adds the proximity selection.
type IncidentView interface {
	View[streams.IncidentReport]
	Near(p geo.Point, radiusMeters float64) []streams.IncidentReport
}

// LookAfterMeView adds the watcher selection.
type LookAfterMeView interface {
	View[streams.LookAfterMeSession]
	Watching(userID string) []streams.LookAfterMeSession
}

// StreamViews are the stream views served by the API. The presence view is the
// exposed one, with users in ghost mode already removed.
type StreamViews struct {
	Presence    View[streams.PresenceRecord]
	Panic       PanicView
	Incidents   IncidentView
	LookAfterMe LookAfterMeView
	Messages    View[streams.Message]
}

// ViewResponse wraps a stream view.
type ViewResponse[T any] struct {
	Stream    string `json:"stream"`
	Seeded    bool   `json:"seeded"`
	SeedError string `json:"seedError,omitempty"`
	Count     int    `json:"count"`
	Items     []T    `json:"items"`
}

func newViewResponse[T any](name string, v View[T], items []T) ViewResponse[T] {
	seeded, err := v.Seeded()
	resp := ViewResponse[T]{
		Stream: name,
		Seeded: seeded,
		Count:  len(items),
		Items:  items,
	}
	if resp.Items == nil {
		resp.Items = []T{}
	}
	if err != nil {
		resp.SeedError = errors.ScrubMessage(err.Error())
	}
	return resp
}

// GetPresence returns the visible presence records. online=true keeps online users only.
func (c *Controller) GetPresence(ctx echo.Context) error {
	if c.views.Presence == nil {
		return c.unavailable(ctx, "presence stream")
	}
	items := c.views.Presence.CurrentView()
	if ctx.QueryParam("online") == "true" {
		items = slices.DeleteFunc(items, func(p streams.PresenceRecord) bool { return !p.Online })
	}
	return ctx.JSON(http.StatusOK, newViewResponse("presence", c.views.Presence, items))
}

// GetPanicAlerts returns panic alerts with their movement paths. active=true
// keeps running alerts only.
func (c *Controller) GetPanicAlerts(ctx echo.Context) error {
	if c.views.Panic == nil {
		return c.unavailable(ctx, "panic stream")
	}
	var items []streams.PanicAlert
	if ctx.QueryParam("active") == "true" {
		items = c.views.Panic.ActiveAlerts()
	} else {
		items = c.views.Panic.CurrentView()
	}
	return ctx.JSON(http.StatusOK, newViewResponse[streams.PanicAlert]("panic", c.views.Panic, items))
}

// GetIncidents returns incidents. With lat, lng and radius (meters) only
// incidents inside that circle are returned.
func (c *Controller) GetIncidents(ctx echo.Context) error {
	if c.views.Incidents == nil {
		return c.unavailable(ctx, "incident stream")
	}

	lat, lng, radius := ctx.QueryParam("lat"), ctx.QueryParam("lng"), ctx.QueryParam("radius")
	if lat == "" && lng == "" && radius == "" {
		items := c.views.Incidents.CurrentView()
		return ctx.JSON(http.StatusOK, newViewResponse[streams.IncidentReport]("incident", c.views.Incidents, items))
	}

	var p geo.Point
	var r float64
	var err error
	if p.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
		return c.HandleError(ctx, err, "Invalid lat parameter", http.StatusBadRequest)
	}
	if p.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
		return c.HandleError(ctx, err, "Invalid lng parameter", http.StatusBadRequest)
	}
	if r, err = strconv.ParseFloat(radius, 64); err != nil || r <= 0 {
		return c.HandleError(ctx, err, "Invalid radius parameter", http.StatusBadRequest)
	}
	if !p.Valid() {
		return c.HandleError(ctx, nil, "Coordinates out of range", http.StatusBadRequest)
	}

	items := c.views.Incidents.Near(p, r)
	return ctx.JSON(http.StatusOK, newViewResponse[streams.IncidentReport]("incident", c.views.Incidents, items))
}

// GetLookAfterMe returns the sessions the observing user watches. all=true
// returns every session in the view.
func (c *Controller) GetLookAfterMe(ctx echo.Context) error {
	if c.views.LookAfterMe == nil {
		return c.unavailable(ctx, "look-after-me stream")
	}
	var items []streams.LookAfterMeSession
	if ctx.QueryParam("all") == "true" {
		items = c.views.LookAfterMe.CurrentView()
	} else {
		items = c.views.LookAfterMe.Watching(c.userID)
	}
	return ctx.JSON(http.StatusOK, newViewResponse[streams.LookAfterMeSession]("lookafterme", c.views.LookAfterMe, items))
}

// GetMessages returns messages in creation order, optionally of one thread.
func (c *Controller) GetMessages(ctx echo.Context) error {
	if c.views.Messages == nil {
		return c.unavailable(ctx, "message stream")
	}
	items := c.views.Messages.CurrentView()
	if thread := ctx.QueryParam("threadId"); thread != "" {
		items = slices.DeleteFunc(items, func(m streams.Message) bool { return m.ThreadID != thread })
	}
	return ctx.JSON(http.StatusOK, newViewResponse("message", c.views.Messages, items))
}
