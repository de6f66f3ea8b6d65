// internal/store/synclog.go
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"workspace-sync-service/pkg/models"
)

// Log appends one audit row. Rows are write-once; nothing in the codebase
// updates them after creation.
func (s *Store) Log(ctx context.Context, kind models.EntityKind, id string, direction models.SyncDirection, outcome models.SyncOutcome, details map[string]any) error {
	entry := &models.SyncLogEntry{
		Kind:      kind,
		RemoteID:  id,
		Direction: direction,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(b)
		}
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// LogFilter narrows audit queries. Zero values mean "no filter".
type LogFilter struct {
	Kind      models.EntityKind
	RemoteID  string
	Direction models.SyncDirection
	Outcome   models.SyncOutcome
	Since     time.Time
	Until     time.Time
	Limit     int
	Page      int
}

// QueryLogs returns audit rows, newest first.
func (s *Store) QueryLogs(ctx context.Context, f LogFilter) ([]models.SyncLogEntry, error) {
	q := s.db.WithContext(ctx).Model(&models.SyncLogEntry{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.RemoteID != "" {
		q = q.Where("remote_id = ?", f.RemoteID)
	}
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at <= ?", f.Until)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := 0
	if f.Page > 0 {
		offset = f.Page * limit
	}
	var out []models.SyncLogEntry
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// OverflowLogs returns the oldest rows beyond the rolling cap, oldest first,
// so they can be archived before deletion.
func (s *Store) OverflowLogs(ctx context.Context, cap int) ([]models.SyncLogEntry, error) {
	if cap <= 0 {
		return nil, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.SyncLogEntry{}).Count(&total).Error; err != nil {
		return nil, err
	}
	overflow := int(total) - cap
	if overflow <= 0 {
		return nil, nil
	}
	var out []models.SyncLogEntry
	err := s.db.WithContext(ctx).Order("created_at ASC").Limit(overflow).Find(&out).Error
	return out, err
}

// DeleteLogs removes archived rows by id.
func (s *Store) DeleteLogs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.SyncLogEntry{}).Error
}
