package valkey

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
)

func TestDecodeHash(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	geom, _ := document.MarshalValue(map[string]any{"type": "Point", "coordinates": document.GeoPoint{Latitude: 1, Longitude: 2}})
	h := map[string]string{
		versionField:             "7",
		updatedField:             "1704164645000000000",
		fieldPrefix + "jobId":    `"job"`,
		fieldPrefix + "geometry": string(geom),
	}

	snap, err := decodeHash("surveys/s1/lois", "a", h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Version != 7 || !snap.UpdateTime.Equal(ts) {
		t.Errorf("unexpected version/time: %d %v", snap.Version, snap.UpdateTime)
	}
	if snap.Fields.String("jobId") != "job" {
		t.Errorf("unexpected jobId: %v", snap.Fields["jobId"])
	}
	if _, ok := snap.Fields.Map("geometry")["coordinates"].(document.GeoPoint); !ok {
		t.Errorf("expected geo point, got %T", snap.Fields.Map("geometry")["coordinates"])
	}
	if _, ok := snap.Fields[versionField]; ok {
		t.Error("bookkeeping fields must not leak into the document")
	}
}

func TestDecodeHashBadVersion(t *testing.T) {
	_, err := decodeHash("c", "a", map[string]string{versionField: "x"})
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Errorf("expected storage error, got %v", err)
	}
}

func TestKeysShareHashSlot(t *testing.T) {
	col := "surveys/s1/lois"
	for _, k := range []string{docKey(col, "a"), indexKey(col), clockKey(col)} {
		if want := "{" + col + "}"; !strings.Contains(k, want) {
			t.Errorf("key %s lacks hash tag %s", k, want)
		}
	}
}

func TestClassifyConnectionErrors(t *testing.T) {
	err := classify("get", errors.New("dial tcp: connection refused"))
	if !domain.IsTransient(err) {
		t.Errorf("expected transient, got %v", err)
	}
	if classify("get", nil) != nil {
		t.Error("expected nil")
	}
}
