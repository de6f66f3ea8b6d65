// internal/transport/http/handlers.go
package http

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"workspace-sync-service/internal/ops"
	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	syncengine "workspace-sync-service/internal/sync"
	"workspace-sync-service/pkg/models"
)

// Handler exposes the sync engine, the snapshot store and the operation
// queue over HTTP.
type Handler struct {
	store    *store.Store
	engine   *syncengine.Engine
	executor *ops.Executor
}

func NewHandler(st *store.Store, engine *syncengine.Engine, executor *ops.Executor) *Handler {
	return &Handler{store: st, engine: engine, executor: executor}
}

// TriggerSync runs one batch pass and returns its counters.
func (h *Handler) TriggerSync(c *fiber.Ctx) error {
	var req struct {
		Kind   string `json:"kind"`
		Mode   string `json:"mode"`
		DryRun bool   `json:"dry_run"`
		Policy string `json:"policy"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
	}
	mode, err := syncengine.ParseMode(req.Mode)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	policy, err := syncengine.ParsePolicy(req.Policy)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res, err := h.engine.Sync(c.Context(), req.Kind, syncengine.Options{Mode: mode, DryRun: req.DryRun, Policy: policy})
	if err != nil {
		log.Printf("❌ TriggerSync: %v", err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": res})
}

// SyncStatus reports per-kind watermarks and pending work.
func (h *Handler) SyncStatus(c *fiber.Ctx) error {
	type kindStatus struct {
		Kind      models.EntityKind `json:"kind"`
		Watermark time.Time         `json:"watermark"`
		Dirty     int64             `json:"dirty"`
	}
	statuses := make([]kindStatus, 0, 2)
	for _, kind := range h.engine.Kinds() {
		watermark, err := h.store.Cursor(c.Context(), kind)
		if err != nil {
			log.Printf("❌ SyncStatus: %s cursor: %v", kind, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load cursor"})
		}
		dirty, err := h.store.CountDirty(c.Context(), kind)
		if err != nil {
			log.Printf("❌ SyncStatus: %s dirty count: %v", kind, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to count dirty entities"})
		}
		statuses = append(statuses, kindStatus{Kind: kind, Watermark: watermark.UTC(), Dirty: dirty})
	}
	unresolved, err := h.store.CountUnresolvedConflicts(c.Context())
	if err != nil {
		log.Printf("❌ SyncStatus: unresolved count: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to count conflicts"})
	}
	return c.JSON(fiber.Map{
		"kinds":                statuses,
		"unresolved_conflicts": unresolved,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrAlreadyRolledBack),
		errors.Is(err, syncengine.ErrConflictResolved):
		return fiber.StatusConflict
	case errors.Is(err, store.ErrUntrackedField),
		errors.Is(err, syncengine.ErrFieldNotInConflict),
		errors.Is(err, syncengine.ErrUnknownPolicy),
		errors.Is(err, syncengine.ErrUnknownKind),
		errors.Is(err, ops.ErrUnknownOperation),
		errors.Is(err, ops.ErrInvalidParams):
		return fiber.StatusBadRequest
	case errors.Is(err, ops.ErrNotRevertible), remote.IsValidation(err):
		return fiber.StatusUnprocessableEntity
	case remote.IsAuth(err):
		return fiber.StatusBadGateway
	case remote.IsTransient(err), remote.IsCircuitOpen(err):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func parseKind(c *fiber.Ctx) (models.EntityKind, bool) {
	kind := models.EntityKind(c.Params("kind"))
	switch kind {
	case models.KindIssue, models.KindPage:
		return kind, true
	default:
		return "", false
	}
}

// Helper
func getQueryInt(c *fiber.Ctx, key string, def, min, max int) int {
	s := c.Query(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
