// internal/transport/http/entities.go
package http

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"workspace-sync-service/pkg/models"
)

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown entity kind"})
	}
	onlyDirty := c.QueryBool("dirty")
	entities, err := h.store.ListEntities(c.Context(), kind, onlyDirty)
	if err != nil {
		log.Printf("❌ ListEntities %s: %v", kind, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch entities"})
	}
	return c.JSON(fiber.Map{"entities": entities, "count": len(entities)})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown entity kind"})
	}
	e, err := h.store.Get(c.Context(), kind, c.Params("id"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "entity not found"})
	}
	return c.JSON(fiber.Map{"entity": e, "dirty_fields": e.ModifiedFieldList()})
}

// PatchEntity is the local write path: every change routes through the
// modification tracker so the dirty-field delta and timestamp land with it.
func (h *Handler) PatchEntity(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown entity kind"})
	}
	var changes models.FieldValues
	if err := c.BodyParser(&changes); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if len(changes) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no fields to update"})
	}

	id := c.Params("id")
	changed, err := h.store.SaveLocalEdit(c.Context(), kind, id, changes)
	if err != nil {
		log.Printf("❌ PatchEntity %s/%s: %v", kind, id, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	e, err := h.store.Get(c.Context(), kind, id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "post-read failed"})
	}
	return c.JSON(fiber.Map{
		"entity":  e,
		"changed": changed,
	})
}

// EntityHistory lists the operation snapshots recorded against one entity.
func (h *Handler) EntityHistory(c *fiber.Ctx) error {
	kind, ok := parseKind(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown entity kind"})
	}
	limit := getQueryInt(c, "limit", 20, 1, 100)
	history, err := h.store.HistoryForEntity(c.Context(), kind, c.Params("id"), limit)
	if err != nil {
		log.Printf("❌ EntityHistory: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch history"})
	}
	return c.JSON(fiber.Map{"history": history})
}
