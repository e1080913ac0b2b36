package geospatial

import (
	"math"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// BoundingBox returns a box around center enclosing radiusMeters.
func BoundingBox(center domain.GeoPoint, radiusMeters float64) domain.Bounds {
	latDelta := radiusMeters / 111320.0
	lonDelta := radiusMeters / (111320.0 * math.Cos(toRad(center.Lat)))

	return domain.Bounds{
		MinLat: center.Lat - latDelta,
		MinLon: center.Lon - lonDelta,
		MaxLat: center.Lat + latDelta,
		MaxLon: center.Lon + lonDelta,
	}
}

// Within reports whether p lies within radiusMeters of center. The bounding
// box rejects far points cheaply unless it wraps the antimeridian.
func Within(center, p domain.GeoPoint, radiusMeters float64) bool {
	box := BoundingBox(center, radiusMeters)
	if box.MinLon >= -180 && box.MaxLon <= 180 && !box.Contains(p) {
		return false
	}
	return Haversine(center.Lat, center.Lon, p.Lat, p.Lon) <= radiusMeters
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
