// Package document is the value model of the remote document store: nested
// string-keyed maps of scalars with a first-class geographic point and no
// native array type.
package document

import (
	"fmt"
	"math"
	"path"
	"strings"
	"time"
)

// GeoPoint is the store's native two-value coordinate type.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Fields is the top-level field set of a document.
type Fields map[string]any

// Snapshot is a document as read at a given version.
type Snapshot struct {
	ID         string
	Collection string
	Version    int64
	UpdateTime time.Time
	Fields     Fields
}

// Path returns the full document path.
func (s Snapshot) Path() string { return Join(s.Collection, s.ID) }

// ChangeKind tags a change notification.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// Change is one notification delivered by a collection watch. A non-nil Err
// reports a delivery problem; the watch keeps running after it.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
	Err      error
}

// Join builds a slash separated document or collection path.
func Join(parts ...string) string {
	return path.Join(parts...)
}

// Split separates a document path into its collection and id.
func Split(p string) (collection, id string, err error) {
	p = strings.Trim(p, "/")
	i := strings.LastIndex(p, "/")
	if i <= 0 || i == len(p)-1 {
		return "", "", fmt.Errorf("invalid document path %q", p)
	}
	return p[:i], p[i+1:], nil
}

// Normalize checks that v is storable and returns its canonical form: integer
// kinds become float64, Fields become map[string]any and times are UTC.
// Slices are rejected because the store has no array type.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("non-finite number %v", t)
		}
		return t, nil
	case float32:
		return Normalize(float64(t))
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case time.Time:
		return t.UTC(), nil
	case GeoPoint:
		return t, nil
	case Fields:
		return Normalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "" {
				return nil, fmt.Errorf("empty field name")
			}
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		return nil, fmt.Errorf("arrays are not supported")
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// NormalizeFields applies Normalize to every field.
func NormalizeFields(f Fields) (Fields, error) {
	n, err := Normalize(map[string]any(f))
	if err != nil {
		return nil, err
	}
	return Fields(n.(map[string]any)), nil
}

// String returns a string field or "".
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Map returns a nested map field or nil.
func (f Fields) Map(key string) map[string]any {
	m, _ := f[key].(map[string]any)
	return m
}

// Time returns a timestamp field.
func (f Fields) Time(key string) (time.Time, bool) {
	t, ok := f[key].(time.Time)
	return t, ok
}
