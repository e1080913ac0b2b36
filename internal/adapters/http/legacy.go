package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
)

// LegacyFeaturesHandler serves a survey's locations as a GeoJSON
// FeatureCollection under the old project/feature naming.
func LegacyFeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lois, err := deps.LOIs.List(c.UserContext(), c.Params("id"), nil)
		if err != nil {
			return fromError(c, err)
		}

		fc := geojson.NewFeatureCollection()
		for _, l := range lois {
			raw, err := geocodec.MarshalGeoJSON(l.Geometry)
			if err != nil {
				return errInternal(c, err.Error())
			}
			g, err := geojson.UnmarshalGeometry(raw)
			if err != nil {
				return errInternal(c, err.Error())
			}
			f := geojson.NewFeature(g.Geometry())
			f.ID = l.ID
			for k, v := range l.Properties {
				f.Properties[k] = v
			}
			f.Properties["job_id"] = l.JobID
			fc.Append(f)
		}

		body, err := fc.MarshalJSON()
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(body)
	}
}
