package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DeprecatedRoute marks an endpoint as deprecated with sunset date.
type DeprecatedRoute struct {
	Path        string    // Route pattern, :params allowed
	SunsetDate  time.Time // Date when endpoint will be removed
	Alternative string    // Successor pattern; params are filled from the request
}

const httpDate = "Mon, 02 Jan 2006 15:04:05 GMT"

// legacyRoutes are the project-era paths kept for older field clients.
var legacyRoutes = []DeprecatedRoute{
	{
		Path:        "/v1/projects/:id/features",
		SunsetDate:  time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC),
		Alternative: "/v1/surveys/:id/lois",
	},
}

// DeprecationMiddleware adds Deprecation, Sunset, Link and Warning headers to
// deprecated endpoints.
func DeprecationMiddleware(deprecated []DeprecatedRoute) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, d := range deprecated {
			params, ok := matchPattern(c.Path(), d.Path)
			if !ok {
				continue
			}
			c.Set("Deprecation", "true")
			c.Set("Sunset", d.SunsetDate.UTC().Format(httpDate))
			if d.Alternative != "" {
				c.Set("Link", fmt.Sprintf(`<%s>; rel="successor-version"`, fillPattern(d.Alternative, params)))
			}
			days := time.Until(d.SunsetDate).Hours() / 24
			c.Set("Warning", fmt.Sprintf(`299 - "Deprecated API, will sunset in %.0f days"`, days))
			break
		}
		return c.Next()
	}
}

// matchPattern matches path against a pattern whose :name segments match any
// single non-empty segment, returning the captured values.
func matchPattern(path, pattern string) (map[string]string, bool) {
	ps := strings.Split(strings.Trim(path, "/"), "/")
	qs := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(ps) != len(qs) {
		return nil, false
	}
	params := map[string]string{}
	for i, q := range qs {
		if name, ok := strings.CutPrefix(q, ":"); ok {
			if ps[i] == "" {
				return nil, false
			}
			params[name] = ps[i]
			continue
		}
		if q != ps[i] {
			return nil, false
		}
	}
	return params, true
}

func fillPattern(pattern string, params map[string]string) string {
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		if name, ok := strings.CutPrefix(s, ":"); ok {
			if v, ok := params[name]; ok {
				segs[i] = v
			}
		}
	}
	return strings.Join(segs, "/")
}
