package remote

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strconv"
	"time"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
	"github.com/samirrijal/groundsync/internal/pkg/metrics"
)

const (
	surveysCollection     = "surveys"
	loisCollection        = "lois"
	submissionsCollection = "submissions"
)

// LOICollection is the collection path holding a survey's locations.
func LOICollection(surveyID string) string {
	return document.Join(surveysCollection, surveyID, loisCollection)
}

// SubmissionCollection is the collection path holding a survey's submissions.
func SubmissionCollection(surveyID string) string {
	return document.Join(surveysCollection, surveyID, submissionsCollection)
}

// Field names of stored documents.
const (
	fieldJobID        = "jobId"
	fieldLOIID        = "loiId"
	fieldGeometry     = "geometry"
	fieldProperties   = "properties"
	fieldResponses    = "responses"
	fieldCreated      = "created"
	fieldLastModified = "lastModified"
	fieldTitle        = "title"
	fieldDescription  = "description"
	fieldJobs         = "jobs"
)

// --- Audit info ---

func auditToDoc(a domain.AuditInfo) map[string]any {
	out := map[string]any{
		"user": map[string]any{
			"id":          a.User.ID,
			"email":       a.User.Email,
			"displayName": a.User.DisplayName,
		},
		"clientTimestamp": a.ClientTimestamp.UTC(),
	}
	if a.ServerTimestamp != nil {
		out["serverTimestamp"] = a.ServerTimestamp.UTC()
	}
	return out
}

// auditFromDoc reads audit info. Documents written without a server
// timestamp take the snapshot's update time.
func auditFromDoc(v any, updated time.Time) domain.AuditInfo {
	m, _ := v.(map[string]any)
	f := document.Fields(m)
	u := document.Fields(f.Map("user"))
	a := domain.AuditInfo{
		User: domain.User{
			ID:          u.String("id"),
			Email:       u.String("email"),
			DisplayName: u.String("displayName"),
		},
	}
	a.ClientTimestamp, _ = f.Time("clientTimestamp")
	if ts, ok := f.Time("serverTimestamp"); ok {
		a.ServerTimestamp = &ts
	} else if !updated.IsZero() {
		ts := updated.UTC()
		a.ServerTimestamp = &ts
	}
	return a
}

// --- Locations of interest ---

func encodeGeometry(g domain.Geometry) (any, error) {
	w, err := geocodec.Encode(g)
	if err != nil {
		metrics.CodecFailures.WithLabelValues("encode").Inc()
		return nil, err
	}
	v, err := geocodec.ToDocumentValue(w)
	if err != nil {
		metrics.CodecFailures.WithLabelValues("encode").Inc()
		return nil, &domain.EncodeError{Reason: "lower wire value", Err: err}
	}
	return v, nil
}

func decodeGeometry(v any) (domain.Geometry, error) {
	w, err := geocodec.FromDocumentValue(v)
	if err != nil {
		metrics.CodecFailures.WithLabelValues("decode").Inc()
		return nil, &domain.DecodeError{Reason: "lift document value", Err: err}
	}
	g, err := geocodec.Decode(w)
	if err != nil {
		metrics.CodecFailures.WithLabelValues("decode").Inc()
		return nil, err
	}
	return g, nil
}

// LOIToFields builds the full document for a location of interest.
func LOIToFields(loi *domain.LocationOfInterest) (document.Fields, error) {
	geom, err := encodeGeometry(loi.Geometry)
	if err != nil {
		return nil, err
	}
	f := document.Fields{
		fieldJobID:        loi.JobID,
		fieldGeometry:     geom,
		fieldCreated:      auditToDoc(loi.Created),
		fieldLastModified: auditToDoc(loi.LastModified),
	}
	if len(loi.Properties) > 0 {
		f[fieldProperties] = maps.Clone(loi.Properties)
	}
	return f, nil
}

// LOIFromSnapshot reads a location of interest document.
func LOIFromSnapshot(surveyID string, snap document.Snapshot) (*domain.LocationOfInterest, error) {
	raw, ok := snap.Fields[fieldGeometry]
	if !ok {
		return nil, &domain.DecodeError{Reason: fmt.Sprintf("location %s has no geometry", snap.ID)}
	}
	g, err := decodeGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("location %s: %w", snap.ID, err)
	}
	return &domain.LocationOfInterest{
		ID:           snap.ID,
		SurveyID:     surveyID,
		JobID:        snap.Fields.String(fieldJobID),
		Geometry:     g,
		Properties:   maps.Clone(snap.Fields.Map(fieldProperties)),
		Created:      auditFromDoc(snap.Fields[fieldCreated], time.Time{}),
		LastModified: auditFromDoc(snap.Fields[fieldLastModified], snap.UpdateTime),
		Version:      snap.Version,
	}, nil
}

// --- Submissions ---

// SubmissionToFields builds the full document for a submission.
func SubmissionToFields(s *domain.Submission) document.Fields {
	f := document.Fields{
		fieldLOIID:        s.LocationOfInterestID,
		fieldJobID:        s.JobID,
		fieldCreated:      auditToDoc(s.Created),
		fieldLastModified: auditToDoc(s.LastModified),
	}
	if len(s.Responses) > 0 {
		f[fieldResponses] = maps.Clone(s.Responses)
	}
	return f
}

// SubmissionFromSnapshot reads a submission document.
func SubmissionFromSnapshot(surveyID string, snap document.Snapshot) *domain.Submission {
	return &domain.Submission{
		ID:                   snap.ID,
		SurveyID:             surveyID,
		LocationOfInterestID: snap.Fields.String(fieldLOIID),
		JobID:                snap.Fields.String(fieldJobID),
		Responses:            maps.Clone(snap.Fields.Map(fieldResponses)),
		Created:              auditFromDoc(snap.Fields[fieldCreated], time.Time{}),
		LastModified:         auditFromDoc(snap.Fields[fieldLastModified], snap.UpdateTime),
		Version:              snap.Version,
	}
}

// --- Surveys ---

// SurveyToFields builds the full survey document, jobs included.
func SurveyToFields(s *domain.Survey) document.Fields {
	jobs := make(map[string]any, len(s.Jobs))
	for id, j := range s.Jobs {
		job := map[string]any{
			"name":  j.Name,
			"style": map[string]any{"color": j.Style.Color},
		}
		if j.Task != nil {
			fields := make(map[string]any, len(j.Task.Fields))
			for _, fd := range j.Task.Fields {
				fields[fd.ID] = map[string]any{
					"index":    float64(fd.Index),
					"label":    fd.Label,
					"type":     string(fd.Type),
					"required": fd.Required,
				}
			}
			job["tasks"] = map[string]any{j.Task.ID: map[string]any{"fields": fields}}
		}
		jobs[id] = job
	}
	return document.Fields{
		fieldTitle:       s.Title,
		fieldDescription: s.Description,
		fieldJobs:        jobs,
	}
}

// SurveyFromSnapshot reads a survey document. A job may carry a single task;
// extra tasks are logged and ignored.
func SurveyFromSnapshot(snap document.Snapshot, log *slog.Logger) *domain.Survey {
	s := &domain.Survey{
		ID:          snap.ID,
		Title:       snap.Fields.String(fieldTitle),
		Description: snap.Fields.String(fieldDescription),
		Jobs:        make(map[string]domain.Job),
		Version:     snap.Version,
	}
	for id, raw := range snap.Fields.Map(fieldJobs) {
		jm, ok := raw.(map[string]any)
		if !ok {
			log.Error("skipping malformed job", "survey", snap.ID, "job", id)
			continue
		}
		jf := document.Fields(jm)
		job := domain.Job{
			ID:    id,
			Name:  jf.String("name"),
			Style: domain.Style{Color: document.Fields(jf.Map("style")).String("color")},
		}
		tasks := jf.Map("tasks")
		if len(tasks) > 1 {
			log.Error("job has more than one task, using the first", "survey", snap.ID, "job", id, "tasks", len(tasks))
		}
		if taskID, ok := firstKey(tasks); ok {
			tm, _ := tasks[taskID].(map[string]any)
			job.Task = &domain.Task{ID: taskID, Fields: fieldsFromDoc(document.Fields(tm).Map("fields"))}
		}
		s.Jobs[id] = job
	}
	return s
}

func fieldsFromDoc(m map[string]any) []domain.Field {
	out := make([]domain.Field, 0, len(m))
	for id, raw := range m {
		fm, _ := raw.(map[string]any)
		f := document.Fields(fm)
		idx, _ := f["index"].(float64)
		req, _ := f["required"].(bool)
		out = append(out, domain.Field{
			ID:       id,
			Index:    int(idx),
			Label:    f.String("label"),
			Type:     domain.FieldType(f.String("type")),
			Required: req,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// firstKey returns the lowest key, comparing numerically when both keys are
// numbers.
func firstKey(m map[string]any) (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys[0], true
}
