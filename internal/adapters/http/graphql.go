package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
)

func loiToMap(l *domain.LocationOfInterest) (map[string]interface{}, error) {
	g, err := geocodec.MarshalGeoJSON(l.Geometry)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{
		"id":            l.ID,
		"job_id":        l.JobID,
		"geometry_type": string(l.Geometry.Type()),
		"geojson":       string(g),
		"version":       int(l.Version),
		"modified_by":   l.LastModified.User.ID,
	}
	if c, ok := domain.Centroid(l.Geometry); ok {
		m["centroid"] = map[string]interface{}{"lat": c.Lat, "lon": c.Lon}
	}
	return m, nil
}

func mutationToMap(m *domain.Mutation) map[string]interface{} {
	return map[string]interface{}{
		"id":          m.ID,
		"survey_id":   m.SurveyID,
		"entity_type": string(m.EntityType),
		"entity_id":   m.EntityID,
		"operation":   string(m.Operation),
		"status":      string(m.Status),
		"retry_count": m.RetryCount,
		"last_error":  m.LastError,
	}
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	jobType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Job",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.String},
			"name": &graphql.Field{Type: graphql.String},
		},
	})

	surveyType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Survey",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"title":       &graphql.Field{Type: graphql.String},
			"description": &graphql.Field{Type: graphql.String},
			"version":     &graphql.Field{Type: graphql.Int},
			"jobs": &graphql.Field{
				Type: graphql.NewList(jobType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, _ := p.Source.(domain.Survey)
					jobs := make([]domain.Job, 0, len(s.Jobs))
					for _, j := range s.Jobs {
						jobs = append(jobs, j)
					}
					return jobs, nil
				},
			},
		},
	})

	loiType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationOfInterest",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"job_id":        &graphql.Field{Type: graphql.String},
			"geometry_type": &graphql.Field{Type: graphql.String},
			"geojson":       &graphql.Field{Type: graphql.String},
			"centroid":      &graphql.Field{Type: geoPointType},
			"version":       &graphql.Field{Type: graphql.Int},
			"modified_by":   &graphql.Field{Type: graphql.String},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"survey_id":   &graphql.Field{Type: graphql.String},
			"entity_type": &graphql.Field{Type: graphql.String},
			"entity_id":   &graphql.Field{Type: graphql.String},
			"operation":   &graphql.Field{Type: graphql.String},
			"status":      &graphql.Field{Type: graphql.String},
			"retry_count": &graphql.Field{Type: graphql.Int},
			"last_error":  &graphql.Field{Type: graphql.String},
		},
	})

	streamType := graphql.NewObject(graphql.ObjectConfig{
		Name: "StreamStatus",
		Fields: graphql.Fields{
			"running":    &graphql.Field{Type: graphql.Boolean},
			"last_error": &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"surveys": &graphql.Field{
				Type:        graphql.NewList(surveyType),
				Description: "Surveys active on this device",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Surveys.List(p.Context)
				},
			},
			"survey": &graphql.Field{
				Type:        surveyType,
				Description: "Get an active survey by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, err := deps.Surveys.Get(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return *s, nil
				},
			},
			"locationsOfInterest": &graphql.Field{
				Type:        graphql.NewList(loiType),
				Description: "Locations of a survey, optionally near a point",
				Args: graphql.FieldConfigArgument{
					"survey_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lat":       &graphql.ArgumentConfig{Type: graphql.Float},
					"lon":       &graphql.ArgumentConfig{Type: graphql.Float},
					"radius":    &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 500.0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var near *usecases.NearFilter
					lat, hasLat := p.Args["lat"].(float64)
					lon, hasLon := p.Args["lon"].(float64)
					if hasLat && hasLon {
						near = &usecases.NearFilter{
							Center:       domain.GeoPoint{Lat: lat, Lon: lon},
							RadiusMeters: p.Args["radius"].(float64),
						}
					}
					lois, err := deps.LOIs.List(p.Context, p.Args["survey_id"].(string), near)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(lois))
					for i := range lois {
						m, err := loiToMap(&lois[i])
						if err != nil {
							return nil, err
						}
						out = append(out, m)
					}
					return out, nil
				},
			},
			"mutations": &graphql.Field{
				Type:        graphql.NewList(mutationType),
				Description: "Queued mutations",
				Args: graphql.FieldConfigArgument{
					"survey_id": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"status":    &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					filter := domain.MutationFilter{SurveyID: p.Args["survey_id"].(string)}
					if raw := p.Args["status"].(string); raw != "" {
						st, err := domain.ParseMutationStatus(raw)
						if err != nil {
							return nil, err
						}
						filter.Statuses = []domain.MutationStatus{st}
					}
					muts, err := deps.Engine.QueuedMutations(p.Context, filter)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(muts))
					for i := range muts {
						out = append(out, mutationToMap(&muts[i]))
					}
					return out, nil
				},
			},
			"streamStatus": &graphql.Field{
				Type:        streamType,
				Description: "State of a survey's remote change stream",
				Args: graphql.FieldConfigArgument{
					"survey_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					st := deps.Surveys.StreamStatus(p.Args["survey_id"].(string))
					return map[string]interface{}{"running": st.Running, "last_error": st.LastError}, nil
				},
			},
		},
	})

	mutationRoot := graphql.NewObject(graphql.ObjectConfig{
		Name: "MutationRoot",
		Fields: graphql.Fields{
			"retryMutation": &graphql.Field{
				Type:        mutationType,
				Description: "Resubmit a failed mutation",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					m, err := deps.Engine.Retry(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return mutationToMap(m), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationRoot,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
