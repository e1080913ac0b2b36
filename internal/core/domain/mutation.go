package domain

import (
	"fmt"
	"time"
)

// EntityType is the kind of entity a mutation targets.
type EntityType string

const (
	EntityLocationOfInterest EntityType = "loi"
	EntitySubmission         EntityType = "submission"
	EntitySurvey             EntityType = "survey"
)

// Operation is the change a mutation applies.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// MutationStatus tracks a queued mutation through the sync lifecycle.
type MutationStatus string

const (
	MutationPending    MutationStatus = "pending"
	MutationInProgress MutationStatus = "in_progress"
	MutationComplete   MutationStatus = "complete"
	MutationFailed     MutationStatus = "failed"
)

// ParseMutationStatus validates a status received from an outer surface.
func ParseMutationStatus(s string) (MutationStatus, error) {
	switch st := MutationStatus(s); st {
	case MutationPending, MutationInProgress, MutationComplete, MutationFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown mutation status %q", s)
}

// Mutation is one pending local change awaiting remote synchronization.
//
// Exactly one of the payload fields matching EntityType is set for Create and
// Update. Delete mutations carry no payload.
type Mutation struct {
	ID              string         `json:"id"`
	Seq             int64          `json:"seq"`
	SurveyID        string         `json:"survey_id"`
	EntityType      EntityType     `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	Operation       Operation      `json:"operation"`
	Author          string         `json:"author"`
	ClientTimestamp time.Time      `json:"client_timestamp"`
	RetryCount      int            `json:"retry_count"`
	Status          MutationStatus `json:"status"`
	LastError       string         `json:"last_error,omitempty"`

	LocationOfInterest *LocationOfInterest `json:"-"`
	Submission         *Submission         `json:"submission,omitempty"`
	Survey             *Survey             `json:"survey,omitempty"`
}

// Validate checks the mutation is well formed before it is enqueued.
func (m *Mutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mutation id is required")
	}
	if m.EntityID == "" {
		return fmt.Errorf("mutation %s: entity id is required", m.ID)
	}
	if m.SurveyID == "" {
		return fmt.Errorf("mutation %s: survey id is required", m.ID)
	}
	switch m.Operation {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("mutation %s: unknown operation %q", m.ID, m.Operation)
	}
	if m.Operation == OpDelete {
		return nil
	}
	switch m.EntityType {
	case EntityLocationOfInterest:
		if m.LocationOfInterest == nil {
			return fmt.Errorf("mutation %s: missing location of interest payload", m.ID)
		}
		if m.LocationOfInterest.Geometry == nil {
			return fmt.Errorf("mutation %s: %w: location of interest has no geometry", m.ID, ErrInvalidGeometry)
		}
	case EntitySubmission:
		if m.Submission == nil {
			return fmt.Errorf("mutation %s: missing submission payload", m.ID)
		}
	case EntitySurvey:
		if m.Survey == nil {
			return fmt.Errorf("mutation %s: missing survey payload", m.ID)
		}
	default:
		return fmt.Errorf("mutation %s: unknown entity type %q", m.ID, m.EntityType)
	}
	return nil
}

// MutationFilter selects queued mutations. Zero fields match everything.
type MutationFilter struct {
	SurveyID string
	EntityID string
	Statuses []MutationStatus
}

// Matches reports whether m passes the filter.
func (f MutationFilter) Matches(m *Mutation) bool {
	if f.SurveyID != "" && m.SurveyID != f.SurveyID {
		return false
	}
	if f.EntityID != "" && m.EntityID != f.EntityID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if m.Status == s {
			return true
		}
	}
	return false
}

// MutationUpdate is the status transition recorded after a remote attempt.
type MutationUpdate struct {
	Status     MutationStatus
	RetryCount int
	LastError  string
}

// SyncReport summarises one drain cycle.
type SyncReport struct {
	Surveys   int        `json:"surveys"`
	Attempted int        `json:"attempted"`
	Synced    int        `json:"synced"`
	Retrying  int        `json:"retrying"`
	Failed    []Mutation `json:"failed,omitempty"`
	Blocked   int        `json:"blocked"`
	Duration  Duration   `json:"duration"`
}

// Merge folds another report into r.
func (r *SyncReport) Merge(o SyncReport) {
	r.Surveys += o.Surveys
	r.Attempted += o.Attempted
	r.Synced += o.Synced
	r.Retrying += o.Retrying
	r.Failed = append(r.Failed, o.Failed...)
	r.Blocked += o.Blocked
}

// Duration marshals as a human readable string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
