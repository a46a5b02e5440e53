// Package middleware provides Echo middleware for logging, metrics, rate
// limiting and security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// When redact is non-nil the logged path goes through it first.
func RequestLogger(logger *slog.Logger, redact func(path string) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			path := req.URL.EscapedPath()
			if redact != nil {
				path = redact(path)
			}

			logger.Info("request",
				"method", req.Method,
				"path", path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
