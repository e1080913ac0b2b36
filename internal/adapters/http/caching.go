package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses that did not
// set one. Survey data is per user and changes with every local edit, so
// nothing is cacheable by shared caches.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet || c.Get(fiber.HeaderCacheControl) != "" {
			return err
		}

		path := c.Path()
		var ttl string
		switch {
		case path == "/v1/health" || path == "/v1/ready" || path == "/metrics":
			ttl = "no-cache"

		case strings.HasPrefix(path, "/v1/mutations"):
			ttl = "no-store" // queue state changes on every drain

		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=3600"

		case strings.HasPrefix(path, "/v1/surveys") && strings.Count(path, "/") == 3:
			ttl = "private, max-age=60" // survey metadata

		case strings.HasPrefix(path, "/v1/"):
			ttl = "private, no-cache" // revalidate with ETag
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}
		return err
	}
}
