// internal/transport/http/operations.go
package http

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"workspace-sync-service/pkg/models"
)

// CreateOperation queues a bulk mutation in pending state. The response
// carries the rendered per-target preview so approvers see the exact effect.
func (h *Handler) CreateOperation(c *fiber.Ctx) error {
	var req struct {
		Kind      string             `json:"kind"`
		Type      string             `json:"type"`
		TargetIDs []string           `json:"target_ids"`
		Params    models.FieldValues `json:"params"`
		CreatedBy string             `json:"created_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	kind := models.EntityKind(req.Kind)
	if kind != models.KindIssue && kind != models.KindPage {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown entity kind"})
	}
	if req.CreatedBy == "" {
		req.CreatedBy = c.Get("X-User-ID")
	}

	op, err := h.executor.Create(c.Context(), kind, req.Type, req.TargetIDs, req.Params, req.CreatedBy)
	if err != nil {
		log.Printf("❌ CreateOperation failed: %v", err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":    "success",
		"operation": op,
	})
}

func (h *Handler) ListOperations(c *fiber.Ctx) error {
	limit := getQueryInt(c, "limit", 20, 1, 100)
	offset := getQueryInt(c, "offset", 0, 0, 10000)
	status := models.OperationStatus(c.Query("status"))
	operations, err := h.store.ListOperations(c.Context(), status, limit, offset)
	if err != nil {
		log.Printf("❌ ListOperations: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch operations"})
	}
	return c.JSON(fiber.Map{"operations": operations, "count": len(operations)})
}

func (h *Handler) GetOperation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid operation id"})
	}
	op, err := h.store.GetOperation(c.Context(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "operation not found"})
	}
	history, err := h.store.HistoryForOperation(c.Context(), id)
	if err != nil {
		log.Printf("❌ GetOperation history: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch history"})
	}
	return c.JSON(fiber.Map{"operation": op, "history": history})
}

func (h *Handler) ApproveOperation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid operation id"})
	}
	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = c.Get("X-User-ID")
	}
	op, err := h.executor.Approve(c.Context(), id, req.ApprovedBy)
	if err != nil {
		log.Printf("❌ ApproveOperation %s: %v", id, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success", "operation": op})
}

func (h *Handler) CancelOperation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid operation id"})
	}
	op, err := h.executor.Cancel(c.Context(), id)
	if err != nil {
		log.Printf("❌ CancelOperation %s: %v", id, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success", "operation": op})
}

// ExecuteOperation runs an approved operation. Partial failures finish the
// operation as failed but keep every successful target's history snapshot,
// so the response is still 200 with the final status inside.
func (h *Handler) ExecuteOperation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid operation id"})
	}
	op, err := h.executor.Execute(c.Context(), id)
	if err != nil {
		log.Printf("❌ ExecuteOperation %s: %v", id, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	history, err := h.store.HistoryForOperation(c.Context(), id)
	if err != nil {
		log.Printf("❌ ExecuteOperation history: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch history"})
	}
	return c.JSON(fiber.Map{
		"status":    string(op.Status),
		"operation": op,
		"history":   history,
	})
}

func (h *Handler) OperationHistory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid operation id"})
	}
	history, err := h.store.HistoryForOperation(c.Context(), id)
	if err != nil {
		log.Printf("❌ OperationHistory: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch history"})
	}
	return c.JSON(fiber.Map{"history": history})
}

// RollbackHistory restores one history snapshot's before-state.
func (h *Handler) RollbackHistory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid history id"})
	}
	snapshot, err := h.executor.Rollback(c.Context(), id)
	if err != nil {
		log.Printf("❌ RollbackHistory %s: %v", id, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"history": snapshot,
	})
}
