package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// clientStateRequest carries the flags a client reports. Omitted flags are left
// unchanged.
type clientStateRequest struct {
	PushPermission *bool `json:"pushPermission"`
	Foreground     *bool `json:"foreground"`
}

// GetClientState returns the client flags used by the push gate.
func (c *Controller) GetClientState(ctx echo.Context) error {
	if c.client == nil {
		return c.unavailable(ctx, "client state")
	}
	return ctx.JSON(http.StatusOK, c.client.Snapshot())
}

// UpdateClientState records push permission and foreground changes.
func (c *Controller) UpdateClientState(ctx echo.Context) error {
	if c.client == nil {
		return c.unavailable(ctx, "client state")
	}

	var req clientStateRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid client state", http.StatusBadRequest)
	}
	if req.PushPermission != nil {
		c.client.SetPushPermission(*req.PushPermission)
	}
	if req.Foreground != nil {
		c.client.SetForeground(*req.Foreground)
	}
	return ctx.JSON(http.StatusOK, c.client.Snapshot())
}
