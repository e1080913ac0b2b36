package domain

import (
	"time"
)

// User identifies the author of a local edit.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// AuditInfo records who changed an entity and when.
type AuditInfo struct {
	User            User       `json:"user"`
	ClientTimestamp time.Time  `json:"client_timestamp"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
}

// NewAuditInfo stamps an edit made by user at clientTime.
func NewAuditInfo(user User, clientTime time.Time) AuditInfo {
	return AuditInfo{User: user, ClientTimestamp: clientTime.UTC()}
}

// Survey is a data collection project. Its offline data is partitioned by ID.
type Survey struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Jobs        map[string]Job `json:"jobs,omitempty"`
	Version     int64          `json:"version"`
}

// Job groups locations of interest that share a style and a data collection task.
type Job struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Style Style  `json:"style"`
	Task  *Task  `json:"task,omitempty"`
}

// Style is the display style of a job's locations.
type Style struct {
	Color string `json:"color,omitempty"`
}

// Task is the form filled in for each location of a job.
type Task struct {
	ID     string  `json:"id"`
	Fields []Field `json:"fields"`
}

// FieldType enumerates the supported question kinds.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldNumber         FieldType = "number"
	FieldMultipleChoice FieldType = "multiple_choice"
	FieldPhoto          FieldType = "photo"
	FieldDate           FieldType = "date"
)

// Field is one question of a task.
type Field struct {
	ID       string    `json:"id"`
	Index    int       `json:"index"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// LocationOfInterest is a place inside a survey, described by a geometry.
// Version is the remote document version last merged locally; zero means the
// entity has never been observed remotely.
type LocationOfInterest struct {
	ID           string         `json:"id"`
	SurveyID     string         `json:"survey_id"`
	JobID        string         `json:"job_id"`
	Geometry     Geometry       `json:"-"`
	Properties   map[string]any `json:"properties,omitempty"`
	Created      AuditInfo      `json:"created"`
	LastModified AuditInfo      `json:"last_modified"`
	Version      int64          `json:"version"`
}

// Submission holds the responses collected for a location of interest.
type Submission struct {
	ID                   string         `json:"id"`
	SurveyID             string         `json:"survey_id"`
	LocationOfInterestID string         `json:"loi_id"`
	JobID                string         `json:"job_id"`
	Responses            map[string]any `json:"responses"`
	Created              AuditInfo      `json:"created"`
	LastModified         AuditInfo      `json:"last_modified"`
	Version              int64          `json:"version"`
}
