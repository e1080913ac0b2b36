package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved single-key objects used to tag non-JSON values.
const (
	geoTag  = "@geo"
	timeTag = "@ts"
)

// MarshalValue encodes a normalized value as JSON. Geo points and timestamps
// are wrapped in tagged single-key objects.
func MarshalValue(v any) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(toJSON(n))
}

// UnmarshalValue reverses MarshalValue.
func UnmarshalValue(b []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	return fromJSON(raw)
}

// MarshalFields encodes a whole field set.
func MarshalFields(f Fields) ([]byte, error) {
	return MarshalValue(map[string]any(f))
}

// UnmarshalFields decodes a field set written by MarshalFields.
func UnmarshalFields(b []byte) (Fields, error) {
	v, err := UnmarshalValue(b)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document is %T, not an object", v)
	}
	return Fields(m), nil
}

func toJSON(v any) any {
	switch t := v.(type) {
	case GeoPoint:
		return map[string]any{geoTag: []float64{t.Latitude, t.Longitude}}
	case time.Time:
		return map[string]any{timeTag: t.Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toJSON(val)
		}
		return out
	}
	return v
}

func fromJSON(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if _, isArr := v.([]any); isArr {
			return nil, fmt.Errorf("arrays are not supported")
		}
		return v, nil
	}
	if len(m) == 1 {
		if raw, ok := m[geoTag]; ok {
			pair, ok := raw.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("malformed %s value", geoTag)
			}
			lat, ok1 := pair[0].(float64)
			lon, ok2 := pair[1].(float64)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("malformed %s value", geoTag)
			}
			return GeoPoint{Latitude: lat, Longitude: lon}, nil
		}
		if raw, ok := m[timeTag]; ok {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("malformed %s value", timeTag)
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("malformed %s value: %w", timeTag, err)
			}
			return ts.UTC(), nil
		}
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		d, err := fromJSON(val)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}
