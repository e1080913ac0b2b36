package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidGeometry is returned when a geometry violates its structural rules.
var ErrInvalidGeometry = errors.New("invalid geometry")

// GeometryType names a supported geometry variant.
type GeometryType string

const (
	GeometryPoint        GeometryType = "Point"
	GeometryLineString   GeometryType = "LineString"
	GeometryPolygon      GeometryType = "Polygon"
	GeometryMultiPolygon GeometryType = "MultiPolygon"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geometry is the closed set of spatial shapes a location of interest can carry.
// Implementations are Point, LineString, Polygon and MultiPolygon.
type Geometry interface {
	Type() GeometryType
	Validate() error
	// Vertices returns every coordinate of the shape, rings included.
	Vertices() []GeoPoint
	sealed()
}

// Point is a single coordinate.
type Point struct {
	Coordinates GeoPoint
}

// LineString is an open path of two or more coordinates.
type LineString struct {
	Coordinates []GeoPoint
}

// LinearRing is a closed path: at least four coordinates, first equal to last.
type LinearRing []GeoPoint

// Polygon is an exterior ring followed by zero or more holes.
type Polygon struct {
	Rings []LinearRing
}

// MultiPolygon is an ordered collection of polygons.
type MultiPolygon struct {
	Polygons []Polygon
}

func (Point) Type() GeometryType        { return GeometryPoint }
func (LineString) Type() GeometryType   { return GeometryLineString }
func (Polygon) Type() GeometryType      { return GeometryPolygon }
func (MultiPolygon) Type() GeometryType { return GeometryMultiPolygon }

func (Point) sealed()        {}
func (LineString) sealed()   {}
func (Polygon) sealed()      {}
func (MultiPolygon) sealed() {}

func (p Point) Validate() error { return nil }

func (l LineString) Validate() error {
	if len(l.Coordinates) < 2 {
		return fmt.Errorf("%w: line string needs at least 2 coordinates, got %d", ErrInvalidGeometry, len(l.Coordinates))
	}
	return nil
}

// Validate checks the ring closure rules.
func (r LinearRing) Validate() error {
	if len(r) < 4 {
		return fmt.Errorf("%w: ring needs at least 4 coordinates, got %d", ErrInvalidGeometry, len(r))
	}
	if r[0] != r[len(r)-1] {
		return fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
	}
	return nil
}

func (p Polygon) Validate() error {
	if len(p.Rings) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
	}
	for i, r := range p.Rings {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
	}
	return nil
}

func (m MultiPolygon) Validate() error {
	if len(m.Polygons) == 0 {
		return fmt.Errorf("%w: multipolygon has no polygons", ErrInvalidGeometry)
	}
	for i, p := range m.Polygons {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("polygon %d: %w", i, err)
		}
	}
	return nil
}

func (p Point) Vertices() []GeoPoint { return []GeoPoint{p.Coordinates} }

func (l LineString) Vertices() []GeoPoint { return append([]GeoPoint(nil), l.Coordinates...) }

func (p Polygon) Vertices() []GeoPoint {
	var out []GeoPoint
	for _, r := range p.Rings {
		out = append(out, r...)
	}
	return out
}

func (m MultiPolygon) Vertices() []GeoPoint {
	var out []GeoPoint
	for _, p := range m.Polygons {
		out = append(out, p.Vertices()...)
	}
	return out
}

// Centroid returns the arithmetic mean of a geometry's vertices. Closing
// vertices of rings are counted twice; this is only used for proximity filters.
func Centroid(g Geometry) (GeoPoint, bool) {
	if g == nil {
		return GeoPoint{}, false
	}
	vs := g.Vertices()
	if len(vs) == 0 {
		return GeoPoint{}, false
	}
	var c GeoPoint
	for _, v := range vs {
		c.Lat += v.Lat
		c.Lon += v.Lon
	}
	n := float64(len(vs))
	return GeoPoint{Lat: c.Lat / n, Lon: c.Lon / n}, true
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}
