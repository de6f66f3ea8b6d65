// internal/store/cursors.go
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"workspace-sync-service/pkg/models"
)

// Cursor returns the pull watermark for a kind. When no cursor row exists yet
// it falls back to the newest last_synced_at of that kind, and to the zero
// time on a completely fresh store (full initial pull).
func (s *Store) Cursor(ctx context.Context, kind models.EntityKind) (time.Time, error) {
	var c models.SyncCursor
	err := s.db.WithContext(ctx).Where("kind = ?", kind).First(&c).Error
	if err == nil {
		return c.Watermark, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, err
	}

	var e models.SyncedEntity
	err = s.db.WithContext(ctx).
		Where("kind = ? AND last_synced_at IS NOT NULL", kind).
		Order("last_synced_at DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return *e.LastSyncedAt, nil
}

// AdvanceCursor moves the watermark forward. Moves backward are ignored so a
// re-run or an out-of-order page can never regress the cursor.
func (s *Store) AdvanceCursor(ctx context.Context, kind models.EntityKind, to time.Time) error {
	if to.IsZero() {
		return nil
	}
	to = to.UTC()
	return s.Transaction(ctx, func(tx *Store) error {
		var c models.SyncCursor
		err := tx.db.WithContext(ctx).Where("kind = ?", kind).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.db.WithContext(ctx).Create(&models.SyncCursor{Kind: kind, Watermark: to}).Error
		}
		if err != nil {
			return err
		}
		if !to.After(c.Watermark) {
			return nil
		}
		return tx.db.WithContext(ctx).Model(&c).Update("watermark", to).Error
	})
}
