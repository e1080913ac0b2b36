// Package geocodec transcodes geometries to and from the nested-map wire
// format of a document store that forbids nested arrays.
//
// Geometries pass through a GeoJSON object first. Two-element numeric arrays
// become CoordinatePair values, every other array becomes an index-keyed map
// and objects are encoded key by key.
package geocodec

// WireValue is one node of the wire tree: Scalar, CoordinatePair, OrderedMap
// or Map.
type WireValue interface {
	isWireValue()
}

// Scalar is a leaf: nil, bool, float64 or string.
type Scalar struct {
	Value any
}

// CoordinatePair is a first-class (latitude, longitude) value.
type CoordinatePair struct {
	Lat float64
	Lon float64
}

// OrderedMap is a sequence. On the wire its keys are "0".."n-1".
type OrderedMap []WireValue

// Map is a string-keyed object.
type Map map[string]WireValue

func (Scalar) isWireValue()         {}
func (CoordinatePair) isWireValue() {}
func (OrderedMap) isWireValue()     {}
func (Map) isWireValue()            {}
