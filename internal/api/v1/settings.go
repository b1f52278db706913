package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/safetynet-go/internal/errors"
)

// GetSettings returns the user's notification settings.
func (c *Controller) GetSettings(ctx echo.Context) error {
	if c.gate == nil {
		return c.unavailable(ctx, "settings")
	}
	return ctx.JSON(http.StatusOK, c.gate.Settings(ctx.Request().Context()))
}

// UpdateSettings applies a settings document. Fields missing from the body keep
// their current values.
func (c *Controller) UpdateSettings(ctx echo.Context) error {
	if c.gate == nil {
		return c.unavailable(ctx, "settings")
	}

	next := c.gate.Settings(ctx.Request().Context())
	if err := ctx.Bind(&next); err != nil {
		return c.HandleError(ctx, err, "Invalid settings document", http.StatusBadRequest)
	}

	if err := c.gate.Update(ctx.Request().Context(), next); err != nil {
		if errors.IsCategory(err, errors.CategoryValidation) {
			return c.HandleError(ctx, err, "Invalid settings", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "Failed to save settings", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, next)
}
