package geocodec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/samirrijal/groundsync/internal/core/domain"
)

// Encode converts g into its wire representation.
func Encode(g domain.Geometry) (WireValue, error) {
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
	b, err := json.Marshal(geojson.NewGeometry(og))
	if err != nil {
		return nil, &domain.EncodeError{Reason: "marshal geojson", Err: err}
	}
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, &domain.EncodeError{Reason: "unmarshal geojson", Err: err}
	}
	return encodeTree(tree)
}

// Decode rebuilds a geometry from its wire representation.
func Decode(w WireValue) (domain.Geometry, error) {
	if isEmpty(w) {
		return nil, &domain.DecodeError{Reason: "empty value"}
	}
	tree, err := decodeTree(w)
	if err != nil {
		return nil, err
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, &domain.DecodeError{Reason: fmt.Sprintf("expected object, got %T", tree)}
	}
	typ, _ := obj["type"].(string)
	switch domain.GeometryType(typ) {
	case domain.GeometryPoint, domain.GeometryLineString, domain.GeometryPolygon, domain.GeometryMultiPolygon:
	default:
		return nil, &domain.DecodeError{Reason: fmt.Sprintf("unsupported geometry type %q", typ)}
	}
	if emptyCoordinates(obj["coordinates"]) {
		return nil, &domain.DecodeError{Reason: "empty coordinates"}
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return nil, &domain.DecodeError{Reason: "marshal geojson", Err: err}
	}
	gj, err := geojson.UnmarshalGeometry(b)
	if err != nil {
		return nil, &domain.DecodeError{Reason: "malformed geojson", Err: err}
	}
	g, err := fromOrb(gj.Geometry())
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, &domain.DecodeError{Reason: "malformed coordinates", Err: err}
	}
	return g, nil
}

func encodeTree(v any) (WireValue, error) {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return Scalar{Value: t}, nil
	case []any:
		if len(t) == 2 {
			lon, ok1 := t[0].(float64)
			lat, ok2 := t[1].(float64)
			if ok1 && ok2 {
				return CoordinatePair{Lat: lat, Lon: lon}, nil
			}
		}
		seq := make(OrderedMap, len(t))
		for i, e := range t {
			w, err := encodeTree(e)
			if err != nil {
				return nil, err
			}
			seq[i] = w
		}
		return seq, nil
	case map[string]any:
		m := make(Map, len(t))
		for k, e := range t {
			w, err := encodeTree(e)
			if err != nil {
				return nil, err
			}
			m[k] = w
		}
		return m, nil
	}
	return nil, &domain.EncodeError{Reason: fmt.Sprintf("unexpected value of type %T", v)}
}

func decodeTree(w WireValue) (any, error) {
	switch t := w.(type) {
	case Scalar:
		return t.Value, nil
	case CoordinatePair:
		return []any{t.Lon, t.Lat}, nil
	case OrderedMap:
		out := make([]any, len(t))
		for i, e := range t {
			v, err := decodeTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case Map:
		if keys, ok, err := indexKeys(t); err != nil {
			return nil, err
		} else if ok {
			out := make([]any, len(keys))
			for i, k := range keys {
				v, err := decodeTree(t[k.key])
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			v, err := decodeTree(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case nil:
		return nil, &domain.DecodeError{Reason: "nil node"}
	}
	return nil, &domain.DecodeError{Reason: fmt.Sprintf("unknown wire value %T", w)}
}

type indexKey struct {
	key string
	n   int
}

// indexKeys reports whether every key of m is a decimal index and, if so,
// returns the keys in ascending numeric order. Gaps are tolerated; two keys
// naming the same index are not.
func indexKeys(m Map) ([]indexKey, bool, error) {
	if len(m) == 0 {
		return nil, false, nil
	}
	keys := make([]indexKey, 0, len(m))
	for k := range m {
		if !isDigits(k) {
			return nil, false, nil
		}
		n, err := strconv.ParseUint(k, 10, 31)
		if err != nil {
			return nil, false, &domain.DecodeError{Reason: fmt.Sprintf("corrupt index-map: key %q", k), Err: err}
		}
		keys = append(keys, indexKey{key: k, n: int(n)})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].n < keys[j].n })
	for i := 1; i < len(keys); i++ {
		if keys[i].n == keys[i-1].n {
			return nil, false, &domain.DecodeError{
				Reason: fmt.Sprintf("corrupt index-map: keys %q and %q share index %d", keys[i-1].key, keys[i].key, keys[i].n),
			}
		}
	}
	return keys, true, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isEmpty(w WireValue) bool {
	switch t := w.(type) {
	case nil:
		return true
	case Map:
		return len(t) == 0
	case OrderedMap:
		return len(t) == 0
	case Scalar:
		return t.Value == nil
	}
	return false
}

func emptyCoordinates(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func toOrb(g domain.Geometry) (orb.Geometry, error) {
	switch t := g.(type) {
	case domain.Point:
		return orbPoint(t.Coordinates), nil
	case domain.LineString:
		return orb.LineString(orbPoints(t.Coordinates)), nil
	case domain.Polygon:
		return orbPolygon(t), nil
	case domain.MultiPolygon:
		mp := make(orb.MultiPolygon, len(t.Polygons))
		for i, p := range t.Polygons {
			mp[i] = orbPolygon(p)
		}
		return mp, nil
	}
	return nil, &domain.EncodeError{Reason: fmt.Sprintf("unsupported geometry type %T", g)}
}

func fromOrb(g orb.Geometry) (domain.Geometry, error) {
	switch t := g.(type) {
	case orb.Point:
		return domain.Point{Coordinates: geoPoint(t)}, nil
	case orb.LineString:
		return domain.LineString{Coordinates: geoPoints(t)}, nil
	case orb.Polygon:
		return geoPolygon(t), nil
	case orb.MultiPolygon:
		mp := domain.MultiPolygon{Polygons: make([]domain.Polygon, len(t))}
		for i, p := range t {
			mp.Polygons[i] = geoPolygon(p)
		}
		return mp, nil
	}
	return nil, &domain.DecodeError{Reason: fmt.Sprintf("unsupported geometry type %T", g)}
}

func orbPoint(p domain.GeoPoint) orb.Point { return orb.Point{p.Lon, p.Lat} }

func geoPoint(p orb.Point) domain.GeoPoint { return domain.GeoPoint{Lat: p.Lat(), Lon: p.Lon()} }

func orbPoints(ps []domain.GeoPoint) []orb.Point {
	out := make([]orb.Point, len(ps))
	for i, p := range ps {
		out[i] = orbPoint(p)
	}
	return out
}

func geoPoints(ps []orb.Point) []domain.GeoPoint {
	out := make([]domain.GeoPoint, len(ps))
	for i, p := range ps {
		out[i] = geoPoint(p)
	}
	return out
}

func orbPolygon(p domain.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p.Rings))
	for i, r := range p.Rings {
		out[i] = orb.Ring(orbPoints(r))
	}
	return out
}

func geoPolygon(p orb.Polygon) domain.Polygon {
	out := domain.Polygon{Rings: make([]domain.LinearRing, len(p))}
	for i, r := range p {
		out.Rings[i] = domain.LinearRing(geoPoints(r))
	}
	return out
}
