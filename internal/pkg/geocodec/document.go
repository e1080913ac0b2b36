package geocodec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/samirrijal/groundsync/internal/pkg/document"
)

// ToDocumentValue lowers a wire tree to a document field value. Coordinate
// pairs become native geo points and sequences become maps keyed "0".."n-1".
func ToDocumentValue(w WireValue) (any, error) {
	switch t := w.(type) {
	case Scalar:
		return t.Value, nil
	case CoordinatePair:
		return document.GeoPoint{Latitude: t.Lat, Longitude: t.Lon}, nil
	case OrderedMap:
		out := make(map[string]any, len(t))
		for i, e := range t {
			v, err := ToDocumentValue(e)
			if err != nil {
				return nil, err
			}
			out[strconv.Itoa(i)] = v
		}
		return out, nil
	case Map:
		out := make(map[string]any, len(t))
		for k, e := range t {
			v, err := ToDocumentValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown wire value %T", w)
}

// FromDocumentValue lifts a document field value into a wire tree. Index-keyed
// maps stay Maps; Decode recognises them.
func FromDocumentValue(v any) (WireValue, error) {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return Scalar{Value: t}, nil
	case time.Time:
		return Scalar{Value: t.Format(time.RFC3339Nano)}, nil
	case document.GeoPoint:
		return CoordinatePair{Lat: t.Latitude, Lon: t.Longitude}, nil
	case map[string]any:
		m := make(Map, len(t))
		for k, e := range t {
			w, err := FromDocumentValue(e)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			m[k] = w
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported document value %T", v)
}
