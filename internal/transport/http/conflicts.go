// internal/transport/http/conflicts.go
package http

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	syncengine "workspace-sync-service/internal/sync"
	"workspace-sync-service/pkg/models"
)

func (h *Handler) ListConflicts(c *fiber.Ctx) error {
	limit := getQueryInt(c, "limit", 50, 1, 200)
	offset := getQueryInt(c, "offset", 0, 0, 10000)

	var resolved *bool
	switch c.Query("resolved") {
	case "":
	case "true":
		v := true
		resolved = &v
	case "false":
		v := false
		resolved = &v
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "resolved must be true or false"})
	}

	kind := models.EntityKind(c.Query("kind"))
	conflicts, err := h.store.ListConflicts(c.Context(), resolved, kind, limit, offset)
	if err != nil {
		log.Printf("❌ ListConflicts: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch conflicts"})
	}
	return c.JSON(fiber.Map{"conflicts": conflicts, "count": len(conflicts)})
}

func (h *Handler) GetConflict(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid conflict id"})
	}
	conflict, err := h.store.GetConflict(c.Context(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "conflict not found"})
	}
	return c.JSON(fiber.Map{
		"conflict": conflict,
		"fields":   conflict.FieldList(),
		"local":    conflict.LocalValues(),
		"remote":   conflict.RemoteValues(),
	})
}

// ResolveConflict settles one conflict with force-local or force-remote,
// optionally only for a subset of its fields.
func (h *Handler) ResolveConflict(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid conflict id"})
	}
	var req struct {
		Policy string   `json:"policy"`
		Fields []string `json:"fields,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	policy, err := syncengine.ParsePolicy(req.Policy)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if policy == syncengine.PolicyManual {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "policy must be force-local or force-remote"})
	}

	resolved, err := h.engine.Resolve(c.Context(), id, policy, req.Fields)
	if err != nil {
		log.Printf("❌ ResolveConflict %s: %v", id, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"conflict": resolved,
	})
}
