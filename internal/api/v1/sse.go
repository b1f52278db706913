package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// sseWriteTimeout bounds one event write to a slow client.
const sseWriteTimeout = 10 * time.Second

// StreamCues streams live feedback and notification cues as Server-Sent Events.
func (c *Controller) StreamCues(ctx echo.Context) error {
	if c.cues == nil {
		return c.unavailable(ctx, "cue stream")
	}

	ctx.Response().Header().Set("Content-Type", "text/event-stream")
	ctx.Response().Header().Set("Cache-Control", "no-cache")
	ctx.Response().Header().Set("Connection", "keep-alive")
	ctx.Response().Header().Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)

	c.sse.SSEConnected()
	defer c.sse.SSEDisconnected()

	clientID := generateCorrelationID()
	cues, subCtx, unsubscribe := c.cues.Subscribe()
	defer unsubscribe()

	log := c.log.With(logger.String("client_id", clientID), logger.String("ip", ctx.RealIP()))
	log.Info("SSE client connected", logger.String("user_agent", ctx.Request().UserAgent()))
	defer log.Info("SSE client disconnected")

	if err := c.sendSSEMessage(ctx, "connected", map[string]string{
		"clientId": clientID,
		"message":  "Connected to cue stream",
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case cue := <-cues:
			if err := c.sendSSEMessage(ctx, string(cue.Kind), cue); err != nil {
				log.Debug("SSE send failed, client likely disconnected", logger.Error(err))
				return nil
			}
			c.sse.SSEMessageSent(string(cue.Kind))

		case <-ticker.C:
			if err := c.sendSSEMessage(ctx, "heartbeat", map[string]any{
				"timestamp": time.Now().Unix(),
				"clients":   c.cues.Subscribers(),
			}); err != nil {
				log.Debug("SSE heartbeat failed, client likely disconnected", logger.Error(err))
				return nil
			}

		case <-ctx.Request().Context().Done():
			return nil

		case <-subCtx.Done():
			return nil
		}
	}
}

// sendSSEMessage writes one event and flushes it.
func (c *Controller) sendSSEMessage(ctx echo.Context, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.log.Debug("failed to set SSE write deadline", logger.Error(err))
	}

	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	ctx.Response().Flush()
	return nil
}
