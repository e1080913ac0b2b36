package http

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
)

// loiView is the JSON form of a location of interest. Geometry is GeoJSON.
type loiView struct {
	domain.LocationOfInterest
	Geometry json.RawMessage `json:"geometry"`
}

func toLOIView(l *domain.LocationOfInterest) (*loiView, error) {
	g, err := geocodec.MarshalGeoJSON(l.Geometry)
	if err != nil {
		return nil, err
	}
	return &loiView{LocationOfInterest: *l, Geometry: g}, nil
}

// mutationView is the JSON form of a queued mutation.
type mutationView struct {
	domain.Mutation
	LocationOfInterest *loiView `json:"loi,omitempty"`
}

func toMutationView(m *domain.Mutation) (*mutationView, error) {
	v := &mutationView{Mutation: *m}
	if m.LocationOfInterest != nil {
		l, err := toLOIView(m.LocationOfInterest)
		if err != nil {
			return nil, err
		}
		v.LocationOfInterest = l
	}
	return v, nil
}

// surveyView adds the remote stream state to a survey.
type surveyView struct {
	*domain.Survey
	Stream usecases.StreamStatus `json:"stream"`
}

type loiRequest struct {
	JobID      string          `json:"job_id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type submissionRequest struct {
	LOIID     string         `json:"loi_id"`
	Responses map[string]any `json:"responses"`
}

type surveyPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// accepted answers an edit that is now queued locally. A failure to schedule
// the background sync does not undo the edit, so it is only logged.
func accepted(c *fiber.Ctx, m *domain.Mutation, err error) error {
	if err != nil {
		if !errors.Is(err, domain.ErrSyncNotScheduled) || m == nil {
			return fromError(c, err)
		}
		LoggerFromCtx(c.UserContext()).Warn("edit queued without sync", "mutation", m.ID, "error", err)
	}
	v, err := toMutationView(m)
	if err != nil {
		return errInternal(c, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(v)
}

// ---- Surveys ----

// ListSurveysHandler lists active surveys, or the surveys offered by the
// remote store with ?available=true.
func ListSurveysHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var (
			surveys []domain.Survey
			err     error
		)
		if c.QueryBool("available") {
			surveys, err = deps.Surveys.Available(c.UserContext())
		} else {
			surveys, err = deps.Surveys.List(c.UserContext())
		}
		if err != nil {
			return fromError(c, err)
		}
		return paginate(c, surveys, 50, 200)
	}
}

// GetSurveyHandler returns an active survey with its stream status.
func GetSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		survey, err := deps.Surveys.Get(c.UserContext(), id)
		if err != nil {
			return fromError(c, err)
		}
		return c.JSON(surveyView{Survey: survey, Stream: deps.Surveys.StreamStatus(id)})
	}
}

// ActivateSurveyHandler downloads a survey for offline use.
func ActivateSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		survey, err := deps.Surveys.Activate(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(survey)
	}
}

// UpdateSurveyHandler queues a change to survey metadata.
func UpdateSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var patch surveyPatch
		if err := c.BodyParser(&patch); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if patch.Title == nil && patch.Description == nil {
			return errBadRequest(c, "title or description is required")
		}
		survey, err := deps.Surveys.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromError(c, err)
		}
		if patch.Title != nil {
			if strings.TrimSpace(*patch.Title) == "" {
				return errBadRequest(c, "title must not be empty")
			}
			survey.Title = *patch.Title
		}
		if patch.Description != nil {
			survey.Description = *patch.Description
		}
		m, err := deps.Surveys.Update(c.UserContext(), survey)
		return accepted(c, m, err)
	}
}

// ClearSurveyHandler removes a survey's offline data. Queued edits block the
// removal unless ?force=true.
func ClearSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Surveys.Clear(c.UserContext(), c.Params("id"), c.QueryBool("force")); err != nil {
			return fromError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SyncSurveyHandler drains the survey's queue now and returns the report.
func SyncSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := deps.Surveys.Get(c.UserContext(), id); err != nil {
			return fromError(c, err)
		}
		report, err := deps.Engine.DrainSurvey(c.UserContext(), id)
		if err != nil {
			return fromError(c, err)
		}
		return c.JSON(report)
	}
}

// SyncAllHandler drains every survey's queue.
func SyncAllHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := deps.Engine.Drain(c.UserContext())
		if err != nil {
			return fromError(c, err)
		}
		return c.JSON(report)
	}
}

// ---- Locations of interest ----

// ListLOIsHandler lists a survey's locations. lat, lon and radius (meters)
// restrict the listing to a circle.
func ListLOIsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var near *usecases.NearFilter
		if c.Query("lat") != "" || c.Query("lon") != "" {
			lat := c.QueryFloat("lat", 0)
			lon := c.QueryFloat("lon", 0)
			radius := c.QueryFloat("radius", 500)
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				return errBadRequest(c, "lat must be within ±90 and lon within ±180")
			}
			if radius <= 0 || radius > 50000 {
				return errBadRequest(c, "radius must be between 1 and 50000 meters")
			}
			near = &usecases.NearFilter{Center: domain.GeoPoint{Lat: lat, Lon: lon}, RadiusMeters: radius}
		}

		lois, err := deps.LOIs.List(c.UserContext(), c.Params("id"), near)
		if err != nil {
			return fromError(c, err)
		}
		views := make([]*loiView, 0, len(lois))
		for i := range lois {
			v, err := toLOIView(&lois[i])
			if err != nil {
				return errInternal(c, err.Error())
			}
			views = append(views, v)
		}
		return paginate(c, views, 100, 1000)
	}
}

// GetLOIHandler returns one location.
func GetLOIHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		loi, err := deps.LOIs.Get(c.UserContext(), c.Params("id"), c.Params("loiId"))
		if err != nil {
			return fromError(c, err)
		}
		v, err := toLOIView(loi)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(v)
	}
}

// CreateLOIHandler queues a new location.
func CreateLOIHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req loiRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.JobID == "" {
			return errBadRequest(c, "job_id is required")
		}
		if len(req.Geometry) == 0 {
			return errBadRequest(c, "geometry is required")
		}
		g, err := geocodec.UnmarshalGeoJSON(req.Geometry)
		if err != nil {
			return fromError(c, err)
		}

		loi, err := deps.LOIs.NewLocationOfInterest(c.UserContext(), c.Params("id"), req.JobID, g)
		if err != nil {
			return fromError(c, err)
		}
		loi.Properties = req.Properties
		m, err := deps.LOIs.Create(c.UserContext(), loi)
		return accepted(c, m, err)
	}
}

// UpdateLOIHandler queues a change to a location. Omitted fields keep their
// current value.
func UpdateLOIHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req loiRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		loi, err := deps.LOIs.Get(c.UserContext(), c.Params("id"), c.Params("loiId"))
		if err != nil {
			return fromError(c, err)
		}
		if req.JobID != "" {
			loi.JobID = req.JobID
		}
		if len(req.Geometry) > 0 {
			g, err := geocodec.UnmarshalGeoJSON(req.Geometry)
			if err != nil {
				return fromError(c, err)
			}
			loi.Geometry = g
		}
		if req.Properties != nil {
			loi.Properties = req.Properties
		}
		m, err := deps.LOIs.Update(c.UserContext(), loi)
		return accepted(c, m, err)
	}
}

// DeleteLOIHandler queues the removal of a location.
func DeleteLOIHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, err := deps.LOIs.Delete(c.UserContext(), c.Params("id"), c.Params("loiId"))
		return accepted(c, m, err)
	}
}

// ---- Submissions ----

// ListSubmissionsHandler lists a survey's submissions, optionally for one
// location (?loi_id=).
func ListSubmissionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subs, err := deps.Submissions.List(c.UserContext(), c.Params("id"), c.Query("loi_id"))
		if err != nil {
			return fromError(c, err)
		}
		return paginate(c, subs, 100, 1000)
	}
}

// CreateSubmissionHandler queues responses for a location.
func CreateSubmissionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req submissionRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.LOIID == "" {
			return errBadRequest(c, "loi_id is required")
		}
		sub, err := deps.Submissions.NewSubmission(c.UserContext(), c.Params("id"), req.LOIID)
		if err != nil {
			return fromError(c, err)
		}
		if req.Responses != nil {
			sub.Responses = req.Responses
		}
		m, err := deps.Submissions.Create(c.UserContext(), sub)
		return accepted(c, m, err)
	}
}

// UpdateSubmissionHandler replaces a submission's responses.
func UpdateSubmissionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req submissionRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Responses == nil {
			return errBadRequest(c, "responses is required")
		}
		sub, err := deps.Submissions.Get(c.UserContext(), c.Params("id"), c.Params("subId"))
		if err != nil {
			return fromError(c, err)
		}
		sub.Responses = req.Responses
		m, err := deps.Submissions.Update(c.UserContext(), sub)
		return accepted(c, m, err)
	}
}

// DeleteSubmissionHandler queues the removal of a submission.
func DeleteSubmissionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, err := deps.Submissions.Delete(c.UserContext(), c.Params("id"), c.Params("subId"))
		return accepted(c, m, err)
	}
}

// ---- Mutations ----

// ListMutationsHandler lists queued mutations. survey_id, entity_id and a
// comma separated status list narrow the result.
func ListMutationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter := domain.MutationFilter{
			SurveyID: c.Query("survey_id"),
			EntityID: c.Query("entity_id"),
		}
		if raw := c.Query("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				st, err := domain.ParseMutationStatus(strings.TrimSpace(s))
				if err != nil {
					return errBadRequest(c, err.Error())
				}
				filter.Statuses = append(filter.Statuses, st)
			}
		}

		muts, err := deps.Engine.QueuedMutations(c.UserContext(), filter)
		if err != nil {
			return fromError(c, err)
		}
		views := make([]*mutationView, 0, len(muts))
		for i := range muts {
			v, err := toMutationView(&muts[i])
			if err != nil {
				return errInternal(c, err.Error())
			}
			views = append(views, v)
		}
		return paginate(c, views, 100, 1000)
	}
}

// RetryMutationHandler resubmits a Failed mutation.
func RetryMutationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, err := deps.Engine.Retry(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromError(c, err)
		}
		return accepted(c, m, nil)
	}
}
