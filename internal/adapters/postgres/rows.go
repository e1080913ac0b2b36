package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
)

// loiPayload is the JSON form of a location of interest. Geometry is stored
// as GeoJSON.
type loiPayload struct {
	domain.LocationOfInterest
	Geometry json.RawMessage `json:"geometry"`
}

// mutationPayload is the JSON stored in mutations.payload.
type mutationPayload struct {
	LocationOfInterest *loiPayload        `json:"loi,omitempty"`
	Submission         *domain.Submission `json:"submission,omitempty"`
	Survey             *domain.Survey     `json:"survey,omitempty"`
}

func encodePayload(m *domain.Mutation) ([]byte, error) {
	if m.Operation == domain.OpDelete {
		return nil, nil
	}
	p := mutationPayload{Submission: m.Submission, Survey: m.Survey}
	if m.LocationOfInterest != nil {
		g, err := geocodec.MarshalGeoJSON(m.LocationOfInterest.Geometry)
		if err != nil {
			return nil, err
		}
		p.LocationOfInterest = &loiPayload{LocationOfInterest: *m.LocationOfInterest, Geometry: g}
	}
	return json.Marshal(p)
}

func decodePayload(m *domain.Mutation, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var p mutationPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("mutation %s payload: %w", m.ID, err)
	}
	m.Submission, m.Survey = p.Submission, p.Survey
	if p.LocationOfInterest != nil {
		g, err := geocodec.UnmarshalGeoJSON(p.LocationOfInterest.Geometry)
		if err != nil {
			return fmt.Errorf("mutation %s geometry: %w", m.ID, err)
		}
		loi := p.LocationOfInterest.LocationOfInterest
		loi.Geometry = g
		m.LocationOfInterest = &loi
	}
	return nil
}

// loiRow holds the encoded columns of a location of interest.
type loiRow struct {
	geometry, properties, created, lastModified []byte
}

func encodeLOI(l *domain.LocationOfInterest) (loiRow, error) {
	var (
		r   loiRow
		err error
	)
	if r.geometry, err = geocodec.MarshalGeoJSON(l.Geometry); err != nil {
		return r, err
	}
	props := l.Properties
	if props == nil {
		props = map[string]any{}
	}
	if r.properties, err = json.Marshal(props); err != nil {
		return r, err
	}
	if r.created, err = json.Marshal(l.Created); err != nil {
		return r, err
	}
	r.lastModified, err = json.Marshal(l.LastModified)
	return r, err
}

func (r loiRow) decode(l *domain.LocationOfInterest) error {
	g, err := geocodec.UnmarshalGeoJSON(r.geometry)
	if err != nil {
		return fmt.Errorf("location %s geometry: %w", l.ID, err)
	}
	l.Geometry = g
	if err := json.Unmarshal(r.properties, &l.Properties); err != nil {
		return err
	}
	if len(l.Properties) == 0 {
		l.Properties = nil
	}
	if err := json.Unmarshal(r.created, &l.Created); err != nil {
		return err
	}
	return json.Unmarshal(r.lastModified, &l.LastModified)
}

type submissionRow struct {
	responses, created, lastModified []byte
}

func encodeSubmission(s *domain.Submission) (submissionRow, error) {
	var (
		r   submissionRow
		err error
	)
	resp := s.Responses
	if resp == nil {
		resp = map[string]any{}
	}
	if r.responses, err = json.Marshal(resp); err != nil {
		return r, err
	}
	if r.created, err = json.Marshal(s.Created); err != nil {
		return r, err
	}
	r.lastModified, err = json.Marshal(s.LastModified)
	return r, err
}

func (r submissionRow) decode(s *domain.Submission) error {
	if err := json.Unmarshal(r.responses, &s.Responses); err != nil {
		return err
	}
	if err := json.Unmarshal(r.created, &s.Created); err != nil {
		return err
	}
	return json.Unmarshal(r.lastModified, &s.LastModified)
}
