package geospatial_test

import (
	"math"
	"testing"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/geospatial"
)

func TestHaversine(t *testing.T) {
	// Bilbao Abando to Moyua, roughly 700m apart.
	d := geospatial.Haversine(43.2612, -2.9273, 43.2630, -2.9355)
	if d < 600 || d > 800 {
		t.Errorf("expected ~700m, got %.0f", d)
	}
	if got := geospatial.Haversine(1, 1, 1, 1); got != 0 {
		t.Errorf("distance to self = %v", got)
	}
}

func TestWithin(t *testing.T) {
	center := domain.GeoPoint{Lat: 43.2612, Lon: -2.9273}
	near := domain.GeoPoint{Lat: 43.2630, Lon: -2.9355}
	far := domain.GeoPoint{Lat: 40.4168, Lon: -3.7038}

	if !geospatial.Within(center, near, 1000) {
		t.Error("near point should be within 1km")
	}
	if geospatial.Within(center, far, 1000) {
		t.Error("far point should not be within 1km")
	}
}

func TestWithinAcrossAntimeridian(t *testing.T) {
	a := domain.GeoPoint{Lat: 0, Lon: 179.999}
	b := domain.GeoPoint{Lat: 0, Lon: -179.999}
	if !geospatial.Within(a, b, 1000) {
		t.Errorf("points %.0fm apart across the antimeridian should match", geospatial.Haversine(a.Lat, a.Lon, b.Lat, b.Lon))
	}
}

func TestBoundingBoxContainsCenter(t *testing.T) {
	c := domain.GeoPoint{Lat: 10, Lon: 20}
	box := geospatial.BoundingBox(c, 500)
	if !box.Contains(c) {
		t.Fatalf("box %+v does not contain its center", box)
	}
	if math.Abs((box.MaxLat-box.MinLat)/2-500/111320.0) > 1e-9 {
		t.Errorf("unexpected latitude span %+v", box)
	}
}
