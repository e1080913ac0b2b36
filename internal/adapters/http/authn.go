package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/groundsync/internal/pkg/auth"
)

// AuthMiddleware attaches the caller to the request context. Tokens are read
// from the Authorization header, or from the access_token query parameter for
// WebSocket upgrades where browsers cannot set headers.
func AuthMiddleware(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Auth == nil {
			c.Locals("user_id", deps.DevUser.ID)
			c.SetUserContext(auth.WithUser(c.UserContext(), deps.DevUser))
			return c.Next()
		}

		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			return errUnauthorized(c, "missing bearer token")
		}

		user, err := deps.Auth.Verify(token)
		if err != nil {
			return errUnauthorized(c, "invalid token")
		}
		c.Locals("user_id", user.ID)
		c.SetUserContext(auth.WithUser(c.UserContext(), user))
		withLogAttrs(c, "user_id", user.ID)
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
