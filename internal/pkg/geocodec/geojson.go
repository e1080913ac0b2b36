package geocodec

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/samirrijal/groundsync/internal/core/domain"
)

// MarshalGeoJSON renders g as a GeoJSON geometry object.
func MarshalGeoJSON(g domain.Geometry) ([]byte, error) {
	if g == nil {
		return nil, &domain.EncodeError{Reason: "nil geometry"}
	}
	if err := g.Validate(); err != nil {
		return nil, &domain.EncodeError{Reason: "malformed coordinates", Err: err}
	}
	og, err := toOrb(g)
	if err != nil {
		return nil, err
	}
	b, err := geojson.NewGeometry(og).MarshalJSON()
	if err != nil {
		return nil, &domain.EncodeError{Reason: "marshal geojson", Err: err}
	}
	return b, nil
}

// UnmarshalGeoJSON parses a GeoJSON geometry object. A Feature wrapper is
// accepted and unwrapped.
func UnmarshalGeoJSON(b []byte) (domain.Geometry, error) {
	if len(b) == 0 {
		return nil, &domain.DecodeError{Reason: "empty value"}
	}
	gj, err := geojson.UnmarshalGeometry(b)
	if err == nil && gj.Coordinates != nil {
		return checked(gj.Coordinates)
	}
	f, ferr := geojson.UnmarshalFeature(b)
	if ferr == nil && f.Geometry != nil {
		return checked(f.Geometry)
	}
	if err == nil {
		err = ferr
	}
	return nil, &domain.DecodeError{Reason: "malformed geojson", Err: err}
}

func checked(og orb.Geometry) (domain.Geometry, error) {
	g, err := fromOrb(og)
	if err != nil {
		return nil, err
	}
	if len(g.Vertices()) == 0 {
		return nil, &domain.DecodeError{Reason: "empty coordinates"}
	}
	if err := g.Validate(); err != nil {
		return nil, &domain.DecodeError{Reason: "malformed coordinates", Err: err}
	}
	return g, nil
}
