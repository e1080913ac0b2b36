package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).String(),
			"version": "dev",
		})
	}
}

// ReadyHandler checks the local database, the remote document store and the
// change feed. Only the local database is required; the field API keeps
// accepting edits while the remote side is unreachable.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		checks := map[string]string{
			"database": check(ctx, deps.DB),
			"remote":   check(ctx, deps.Remote),
			"feed":     check(ctx, deps.Feed),
		}

		status, code := "ready", fiber.StatusOK
		if checks["database"] != "ok" {
			status, code = "not ready", fiber.StatusServiceUnavailable
		}

		res := fiber.Map{
			"status": status,
			"checks": checks,
		}
		if q, err := queueSummary(ctx, deps); err == nil {
			res["queue"] = q
		}
		return c.Status(code).JSON(res)
	}
}

// queueSummary counts queued mutations by status so operators can see a
// backlog that is not draining.
func queueSummary(ctx context.Context, deps *Dependencies) (map[domain.MutationStatus]int, error) {
	if deps.Engine == nil {
		return nil, errors.New("no sync engine")
	}
	ms, err := deps.Engine.QueuedMutations(ctx, domain.MutationFilter{})
	if err != nil {
		return nil, err
	}
	counts := map[domain.MutationStatus]int{
		domain.MutationPending: 0,
		domain.MutationFailed:  0,
	}
	for _, m := range ms {
		counts[m.Status]++
	}
	return counts, nil
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "not configured"
	}
	if err := p.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
