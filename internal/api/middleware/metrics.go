package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RecordRequest(method, path string, status int, duration time.Duration)
}

// NewRequestMetrics records request counts and latency by route pattern. Unmatched
// routes are folded into one label so scanners cannot explode the label space.
func NewRequestMetrics(rec RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rec == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			rec.RecordRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}
