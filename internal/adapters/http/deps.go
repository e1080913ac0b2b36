package http

import (
	"context"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/auth"
)

// Pinger is a backing service checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Surveys     *usecases.SurveyService
	LOIs        *usecases.LocationOfInterestService
	Submissions *usecases.SubmissionService
	Engine      *usecases.SyncEngine

	// Auth verifies bearer tokens. When nil every request runs as DevUser.
	Auth    *auth.Verifier
	DevUser domain.User

	// Readiness checks, keyed by name. Nil entries are reported as not configured.
	DB     Pinger
	Remote Pinger
	Feed   Pinger
}
