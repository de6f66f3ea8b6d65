// internal/store/conflicts.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"workspace-sync-service/pkg/models"
)

// OpenConflict returns the unresolved conflict for an entity, or nil.
func (s *Store) OpenConflict(ctx context.Context, kind models.EntityKind, id string) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND remote_id = ? AND resolution IS NULL", kind, id).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConflict records a detection. An existing unresolved record for the
// same entity is refreshed in place (new snapshots, new field set) instead of
// piling up duplicates; resolved records are left alone for the audit trail.
// Returns the record and whether it was newly created.
func (s *Store) SaveConflict(ctx context.Context, kind models.EntityKind, id string, local, remote models.FieldValues, fields []string) (*models.ConflictRecord, bool, error) {
	var rec *models.ConflictRecord
	created := false
	err := s.Transaction(ctx, func(tx *Store) error {
		existing, err := tx.OpenConflict(ctx, kind, id)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.LocalData = models.EncodeFieldValues(local)
			existing.RemoteData = models.EncodeFieldValues(remote)
			existing.SetFieldList(fields)
			existing.DetectedAt = time.Now().UTC()
			rec = existing
			return tx.db.WithContext(ctx).Save(existing).Error
		}
		c := &models.ConflictRecord{
			Kind:       kind,
			RemoteID:   id,
			LocalData:  models.EncodeFieldValues(local),
			RemoteData: models.EncodeFieldValues(remote),
			DetectedAt: time.Now().UTC(),
		}
		c.SetFieldList(fields)
		rec = c
		created = true
		return tx.db.WithContext(ctx).Create(c).Error
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

// MarkConflictResolved stamps a resolution onto a conflict record.
func (s *Store) MarkConflictResolved(ctx context.Context, c *models.ConflictRecord, resolution models.ConflictResolution) error {
	now := time.Now().UTC()
	c.Resolution = &resolution
	c.ResolvedAt = &now
	return s.db.WithContext(ctx).Save(c).Error
}

// GetConflict loads one conflict by id.
func (s *Store) GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConflicts returns conflicts, newest first, optionally filtered by
// resolved state and kind.
func (s *Store) ListConflicts(ctx context.Context, resolved *bool, kind models.EntityKind, limit, offset int) ([]models.ConflictRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.ConflictRecord{})
	if resolved != nil {
		if *resolved {
			q = q.Where("resolution IS NOT NULL")
		} else {
			q = q.Where("resolution IS NULL")
		}
	}
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit <= 0 {
		limit = 50
	}
	var out []models.ConflictRecord
	err := q.Order("detected_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// CountUnresolvedConflicts feeds the batch exit code.
func (s *Store) CountUnresolvedConflicts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ConflictRecord{}).
		Where("resolution IS NULL").
		Count(&n).Error
	return n, err
}
