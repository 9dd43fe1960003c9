package httpapi

import (
	"context"
	"time"

	"github.com/fechatter/messaging-core/internal/store"
	"github.com/fechatter/messaging-core/internal/workerpool"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	store *store.Store
	pool  *workerpool.Manager
}

func NewHealthHandler(s *store.Store, pool *workerpool.Manager) *HealthHandler {
	return &HealthHandler{store: s, pool: pool}
}

// Handle reports database reachability and outbox publisher lag, adapted
// from the teacher's health handler shape (spec.md §10 supplemented
// feature — liveness/readiness is ambient infrastructure every deployed
// service in the pack carries).
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	dbErr := h.store.Ping(ctx)
	if dbErr != nil {
		status = "degraded"
	}

	lag, _ := h.store.OldestUnpublishedAge(ctx)

	return c.JSON(fiber.Map{
		"status":               status,
		"database_reachable":   dbErr == nil,
		"outbox_lag_seconds":   lag.Seconds(),
		"worker_pools":         h.pool.Stats(),
		"timestamp":            time.Now().Format(time.RFC3339),
	})
}
