// internal/transport/http/logs.go
package http

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"workspace-sync-service/internal/store"
	"workspace-sync-service/pkg/models"
)

// QueryLogs exposes the audit trail with kind/entity/direction/outcome and
// time-range filters, newest first.
func (h *Handler) QueryLogs(c *fiber.Ctx) error {
	filter := store.LogFilter{
		Kind:      models.EntityKind(c.Query("kind")),
		RemoteID:  c.Query("entity"),
		Direction: models.SyncDirection(c.Query("direction")),
		Outcome:   models.SyncOutcome(c.Query("outcome")),
		Limit:     getQueryInt(c, "limit", 100, 1, 500),
		Page:      getQueryInt(c, "page", 0, 0, 10000),
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid since (RFC3339)"})
		}
		filter.Since = t
	}
	if s := c.Query("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid until (RFC3339)"})
		}
		filter.Until = t
	}

	entries, err := h.store.QueryLogs(c.Context(), filter)
	if err != nil {
		log.Printf("❌ QueryLogs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch logs"})
	}
	return c.JSON(fiber.Map{"logs": entries, "count": len(entries)})
}
