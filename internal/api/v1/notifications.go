package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/errors"
)

// NotificationList is the body of GET /notifications.
type NotificationList struct {
	Notifications []datastore.Notification `json:"notifications"`
	UnreadCount   int64                    `json:"unreadCount"`
}

// ListNotifications returns the user's in-app notifications, newest first.
// Query parameters: unread=true, before=<RFC3339>, limit=<n>.
func (c *Controller) ListNotifications(ctx echo.Context) error {
	if c.store == nil {
		return c.unavailable(ctx, "notification store")
	}

	var opts datastore.ListOptions
	if v := ctx.QueryParam("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid unread parameter", http.StatusBadRequest)
		}
		opts.UnreadOnly = unread
	}
	if v := ctx.QueryParam("before"); v != "" {
		before, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid before parameter, expected RFC3339", http.StatusBadRequest)
		}
		opts.Before = before
	}
	if v := ctx.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return c.HandleError(ctx, err, "Invalid limit parameter", http.StatusBadRequest)
		}
		opts.Limit = limit
	}

	reqCtx := ctx.Request().Context()
	items, err := c.store.ListNotifications(reqCtx, c.userID, opts)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list notifications", http.StatusInternalServerError)
	}
	unread, err := c.store.UnreadCount(reqCtx, c.userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to count unread notifications", http.StatusInternalServerError)
	}
	if items == nil {
		items = []datastore.Notification{}
	}

	return ctx.JSON(http.StatusOK, NotificationList{Notifications: items, UnreadCount: unread})
}

// MarkRead marks one notification as read.
func (c *Controller) MarkRead(ctx echo.Context) error {
	if c.store == nil {
		return c.unavailable(ctx, "notification store")
	}
	id := ctx.Param("id")
	if id == "" {
		return c.HandleError(ctx, nil, "Missing notification id", http.StatusBadRequest)
	}

	if err := c.store.MarkRead(ctx.Request().Context(), c.userID, id); err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Notification not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to mark notification as read", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// MarkAllRead marks every unread notification as read.
func (c *Controller) MarkAllRead(ctx echo.Context) error {
	if c.store == nil {
		return c.unavailable(ctx, "notification store")
	}
	n, err := c.store.MarkAllRead(ctx.Request().Context(), c.userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to mark notifications as read", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]int64{"updated": n})
}
