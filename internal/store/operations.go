// internal/store/operations.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workspace-sync-service/pkg/models"
)

var (
	// ErrInvalidTransition is returned when an operation status change is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid operation status transition")

	// ErrAlreadyRolledBack is returned when a history snapshot is rolled back
	// a second time. Distinct on purpose so callers can tell it apart from a
	// fresh rollback failure.
	ErrAlreadyRolledBack = errors.New("history snapshot already rolled back")
)

// CreateOperation inserts a new pending operation.
func (s *Store) CreateOperation(ctx context.Context, op *models.Operation) error {
	if op.Status == "" {
		op.Status = models.OperationPending
	}
	op.CreatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Create(op).Error
}

// GetOperation loads one operation by id.
func (s *Store) GetOperation(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	var op models.Operation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&op).Error
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// ListOperations returns operations newest first, optionally by status.
func (s *Store) ListOperations(ctx context.Context, status models.OperationStatus, limit, offset int) ([]models.Operation, error) {
	q := s.db.WithContext(ctx).Model(&models.Operation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 {
		limit = 50
	}
	var out []models.Operation
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// TransitionOperation flips an operation's status under a transactional guard:
// the change only happens when the current status is in allowedFrom, otherwise
// ErrInvalidTransition. mutate runs on the reloaded row before saving so
// timestamps and actor fields land in the same write.
func (s *Store) TransitionOperation(ctx context.Context, id uuid.UUID, allowedFrom []models.OperationStatus, to models.OperationStatus, mutate func(*models.Operation)) (*models.Operation, error) {
	var out *models.Operation
	err := s.Transaction(ctx, func(tx *Store) error {
		op, err := tx.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, from := range allowedFrom {
			if op.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, op.Status, to)
		}
		op.Status = to
		if mutate != nil {
			mutate(op)
		}
		if err := tx.db.WithContext(ctx).Save(op).Error; err != nil {
			return err
		}
		out = op
		return nil
	})
	return out, err
}

// CreateHistory inserts one before/after snapshot row.
func (s *Store) CreateHistory(ctx context.Context, h *models.HistorySnapshot) error {
	h.CreatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Create(h).Error
}

// GetHistory loads one history snapshot by id.
func (s *Store) GetHistory(ctx context.Context, id uuid.UUID) (*models.HistorySnapshot, error) {
	var h models.HistorySnapshot
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// HistoryForOperation lists an operation's snapshots in execution order.
func (s *Store) HistoryForOperation(ctx context.Context, opID uuid.UUID) ([]models.HistorySnapshot, error) {
	var out []models.HistorySnapshot
	err := s.db.WithContext(ctx).
		Where("operation_id = ?", opID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// HistoryForEntity lists snapshots touching one entity, newest first.
func (s *Store) HistoryForEntity(ctx context.Context, kind models.EntityKind, id string, limit int) ([]models.HistorySnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.HistorySnapshot
	err := s.db.WithContext(ctx).
		Where("kind = ? AND remote_id = ?", kind, id).
		Order("created_at DESC").Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkRolledBack flips the rollback flag under a transactional guard; a second
// attempt surfaces ErrAlreadyRolledBack.
func (s *Store) MarkRolledBack(ctx context.Context, id uuid.UUID) (*models.HistorySnapshot, error) {
	var out *models.HistorySnapshot
	err := s.Transaction(ctx, func(tx *Store) error {
		h, err := tx.GetHistory(ctx, id)
		if err != nil {
			return err
		}
		if h.RolledBack {
			return ErrAlreadyRolledBack
		}
		now := time.Now().UTC()
		h.RolledBack = true
		h.RolledBackAt = &now
		if err := tx.db.WithContext(ctx).Save(h).Error; err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}
