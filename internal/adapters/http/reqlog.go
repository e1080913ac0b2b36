package http

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// HeaderDeviceID identifies the field device that sent a request. Devices
// replay queued edits, so the id ties retries of one edit together in logs.
const HeaderDeviceID = "X-Device-ID"

type ctxKey string

const loggerKey ctxKey = "logger"

// RequestIDLogMiddleware stores a request-scoped logger in the user context
// tagged with the request and device ids. AuthMiddleware adds the user.
func RequestIDLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var args []any
		if rid, _ := c.Locals("requestid").(string); rid != "" {
			args = append(args, "request_id", rid)
		}
		if dev := c.Get(HeaderDeviceID); dev != "" {
			c.Locals("device_id", dev)
			args = append(args, "device_id", dev)
		}
		if len(args) > 0 {
			withLogAttrs(c, args...)
		}
		return c.Next()
	}
}

func withLogAttrs(c *fiber.Ctx, args ...any) {
	ctx := c.UserContext()
	c.SetUserContext(context.WithValue(ctx, loggerKey, LoggerFromCtx(ctx).With(args...)))
}

// LoggerFromCtx returns the request logger, or the default logger outside a request.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
