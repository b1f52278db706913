// Package api implements the v1 JSON endpoints of the SafetyNet API: in-app
// notifications, notification settings, position and client-state ingestion,
// stream views and the live cue stream.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/geo"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/notification"
	"github.com/tphakala/safetynet-go/internal/settings"
)

// DefaultHeartbeatInterval is the SSE keep-alive period.
const DefaultHeartbeatInterval = 30 * time.Second

// NotificationStore is the in-app notification store as seen by the API.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, opts datastore.ListOptions) ([]datastore.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// SettingsGate reads and replaces the user's notification settings.
type SettingsGate interface {
	Settings(ctx context.Context) settings.Settings
	Update(ctx context.Context, s settings.Settings) error
}

// PositionSink receives position samples.
type PositionSink interface {
	Update(s geo.Sample) bool
	LastSample() (geo.Sample, bool)
}

// SSEObserver counts live cue connections and messages.
type SSEObserver interface {
	SSEConnected()
	SSEDisconnected()
	SSEMessageSent(kind string)
}

type nopSSEObserver struct{}

func (nopSSEObserver) SSEConnected()         {}
func (nopSSEObserver) SSEDisconnected()      {}
func (nopSSEObserver) SSEMessageSent(string) {}

// Dependencies are the components the controller serves. Nil components leave
// their endpoints answering 503.
type Dependencies struct {
	UserID   string
	Store    NotificationStore
	Gate     SettingsGate
	Position PositionSink
	Client   *notification.ClientState
	Cues     *notification.Broadcaster
	Views    StreamViews
	SSE      SSEObserver
	Logger   logger.Logger
	// Version is reported by the system endpoint.
	Version string

	// HeartbeatInterval overrides DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

// Controller manages the v1 API routes and handlers.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	userID    string
	store     NotificationStore
	gate      SettingsGate
	position  PositionSink
	client    *notification.ClientState
	cues      *notification.Broadcaster
	views     StreamViews
	sse       SSEObserver
	log       logger.Logger
	heartbeat time.Duration
	version   string
	startTime time.Time
}

// New creates a controller and registers its routes under /api/v1. Extra
// middleware, such as authentication, wraps the whole group.
func New(e *echo.Echo, deps Dependencies, mw ...echo.MiddlewareFunc) (*Controller, error) {
	if e == nil {
		return nil, errors.Newf("echo instance is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if deps.UserID == "" {
		return nil, errors.Newf("observing user id is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewDiscardLogger()
	}
	if deps.SSE == nil {
		deps.SSE = nopSSEObserver{}
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = DefaultHeartbeatInterval
	}

	c := &Controller{
		Echo:      e,
		Group:     e.Group("/api/v1", mw...),
		userID:    deps.UserID,
		store:     deps.Store,
		gate:      deps.Gate,
		position:  deps.Position,
		client:    deps.Client,
		cues:      deps.Cues,
		views:     deps.Views,
		sse:       deps.SSE,
		log:       deps.Logger.Module("api"),
		heartbeat: deps.HeartbeatInterval,
		version:   deps.Version,
		startTime: time.Now(),
	}
	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.GET("/ping", c.Ping)

	c.Group.GET("/notifications", c.ListNotifications)
	c.Group.PUT("/notifications/read", c.MarkAllRead)
	c.Group.PUT("/notifications/:id/read", c.MarkRead)

	c.Group.GET("/settings", c.GetSettings)
	c.Group.PUT("/settings", c.UpdateSettings)

	c.Group.GET("/position", c.GetPosition)
	c.Group.POST("/position", c.UpdatePosition)

	c.Group.GET("/client", c.GetClientState)
	c.Group.PUT("/client", c.UpdateClientState)

	c.Group.GET("/streams/presence", c.GetPresence)
	c.Group.GET("/streams/panic", c.GetPanicAlerts)
	c.Group.GET("/streams/incidents", c.GetIncidents)
	c.Group.GET("/streams/lookafterme", c.GetLookAfterMe)
	c.Group.GET("/streams/messages", c.GetMessages)

	c.Group.GET("/cues/stream", c.StreamCues)

	c.Group.GET("/system", c.GetSystemInfo)
}

// Ping answers with the server time.
func (c *Controller) Ping(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = errors.ScrubMessage(err.Error())
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates an 8 character identifier for matching a
// response to its log line.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes it as an ErrorResponse.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// unavailable answers for endpoints whose component is not wired.
func (c *Controller) unavailable(ctx echo.Context, component string) error {
	return c.HandleError(ctx, nil, component+" is not available", http.StatusServiceUnavailable)
}
