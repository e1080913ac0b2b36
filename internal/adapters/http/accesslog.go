package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// probes are logged at debug so polling does not drown out edits.
var probes = map[string]bool{
	"/v1/health": true,
	"/v1/ready":  true,
	"/metrics":   true,
}

// AccessLogMiddleware logs one line per request. Routes are logged by
// pattern so survey and entity ids do not fragment the log.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		method, path := c.Method(), c.Path()

		err := c.Next()

		status := c.Response().StatusCode()
		route := c.Route().Path
		if route == "" || route == "/" {
			route = path
		}
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		}
		if route != path {
			attrs = append(attrs, slog.String("path", path))
		}
		for _, key := range []string{"requestid", "user_id", "device_id"} {
			if v, ok := c.Locals(key).(string); ok && v != "" {
				name := key
				if key == "requestid" {
					name = "request_id"
				}
				attrs = append(attrs, slog.String(name, v))
			}
		}

		level := slog.LevelInfo
		switch {
		case err != nil:
			attrs = append(attrs, slog.String("error", err.Error()))
			level = slog.LevelError
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case probes[path]:
			level = slog.LevelDebug
		}

		slog.LogAttrs(c.UserContext(), level, method+" "+route, attrs...)
		return err
	}
}
