package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/safetynet-go/internal/geo"
)

// PositionResponse reports whether a sample replaced the current position.
type PositionResponse struct {
	Accepted bool        `json:"accepted"`
	Current  *geo.Sample `json:"current,omitempty"`
}

// GetPosition returns the last accepted position sample.
func (c *Controller) GetPosition(ctx echo.Context) error {
	if c.position == nil {
		return c.unavailable(ctx, "position")
	}
	s, ok := c.position.LastSample()
	if !ok {
		return c.HandleError(ctx, nil, "No position known", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, s)
}

// UpdatePosition ingests one position sample. A sample without a timestamp is
// stamped with the receive time; samples older than the current one are ignored.
func (c *Controller) UpdatePosition(ctx echo.Context) error {
	if c.position == nil {
		return c.unavailable(ctx, "position")
	}

	var s geo.Sample
	if err := ctx.Bind(&s); err != nil {
		return c.HandleError(ctx, err, "Invalid position sample", http.StatusBadRequest)
	}
	if !s.Point().Valid() || s.Accuracy < 0 {
		return c.HandleError(ctx, nil, "Coordinates out of range", http.StatusBadRequest)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	resp := PositionResponse{Accepted: c.position.Update(s)}
	if current, ok := c.position.LastSample(); ok {
		resp.Current = &current
	}
	return ctx.JSON(http.StatusOK, resp)
}
