// internal/store/snapshots.go
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"

	"workspace-sync-service/pkg/models"
)

// ErrUntrackedField rejects local edits to fields the snapshot store does not
// carry for the entity's kind.
var ErrUntrackedField = errors.New("field is not editable")

// Get loads one entity row.
func (s *Store) Get(ctx context.Context, kind models.EntityKind, id string) (*models.SyncedEntity, error) {
	var e models.SyncedEntity
	err := s.db.WithContext(ctx).Where("kind = ? AND remote_id = ?", kind, id).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntities returns entities of a kind, optionally only dirty ones.
func (s *Store) ListEntities(ctx context.Context, kind models.EntityKind, onlyDirty bool) ([]models.SyncedEntity, error) {
	q := s.db.WithContext(ctx).Where("kind = ?", kind)
	if onlyDirty {
		q = q.Where("local_modified_at IS NOT NULL")
	}
	var out []models.SyncedEntity
	err := q.Order("remote_id ASC").Find(&out).Error
	return out, err
}

// DirtyEntities returns the pusher's work set: locally modified entities with
// no unresolved conflict attached.
func (s *Store) DirtyEntities(ctx context.Context, kind models.EntityKind) ([]models.SyncedEntity, error) {
	var out []models.SyncedEntity
	err := s.db.WithContext(ctx).
		Where("kind = ? AND local_modified_at IS NOT NULL", kind).
		Where("NOT EXISTS (SELECT 1 FROM sync_conflicts c WHERE c.kind = synced_entities.kind AND c.remote_id = synced_entities.remote_id AND c.resolution IS NULL)").
		Order("remote_id ASC").
		Find(&out).Error
	return out, err
}

// CountDirty counts entities with unpushed local modifications.
func (s *Store) CountDirty(ctx context.Context, kind models.EntityKind) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SyncedEntity{}).
		Where("kind = ? AND local_modified_at IS NOT NULL", kind).
		Count(&n).Error
	return n, err
}

// SaveLocalEdit is the write-path interceptor for every local (non-sync)
// mutation: it computes the changed-field delta against the stored values,
// merges it into local_modified_fields and stamps local_modified_at — all in
// one transaction. Returns the fields that actually changed.
func (s *Store) SaveLocalEdit(ctx context.Context, kind models.EntityKind, id string, changes models.FieldValues) ([]string, error) {
	var changed []string
	err := s.Transaction(ctx, func(tx *Store) error {
		e, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		dirty := e.ModifiedFieldList()
		for _, field := range sortedKeys(changes) {
			if !isTracked(kind, field) {
				return fmt.Errorf("%w: %q for kind %q", ErrUntrackedField, field, kind)
			}
			value := changes[field]
			if models.FieldEqual(e.FieldValue(field), value) {
				continue
			}
			if err := e.SetField(field, value); err != nil {
				return err
			}
			changed = append(changed, field)
			dirty = appendField(dirty, field)
		}
		if len(changed) == 0 {
			return nil
		}
		now := time.Now().UTC()
		e.LocalModifiedAt = &now
		e.SetModifiedFieldList(dirty)
		return tx.db.WithContext(ctx).Save(e).Error
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// InsertRemote creates a row for an entity seen for the first time on pull.
// Sync-origin: no dirty tracking, base snapshot equals the pulled values.
func (s *Store) InsertRemote(ctx context.Context, e *models.SyncedEntity) error {
	if len(e.Base) == 0 {
		e.Base = models.EncodeFieldValues(e.Snapshot())
	}
	return s.db.WithContext(ctx).Create(e).Error
}

// UpdateSynced saves a row mutated by sync-origin code (puller, resolver).
// Callers are responsible for base/marker bookkeeping; the interceptor is
// deliberately bypassed here.
func (s *Store) UpdateSynced(ctx context.Context, e *models.SyncedEntity) error {
	return s.db.WithContext(ctx).Save(e).Error
}

// PushConfirm carries what the remote reported after accepting a push.
type PushConfirm struct {
	Pushed   []string
	SyncedAt time.Time      // remote-reported modification time
	Version  int            // wiki post-update version, 0 keeps the stored one
	Raw      datatypes.JSON // post-update remote payload, nil keeps the stored one
}

// ConfirmPush clears exactly the pushed fields from the dirty set, advances
// the base snapshot for those fields to the accepted local values and stamps
// last_synced_at with the remote-reported time. local_modified_at is cleared
// in the same transaction iff the dirty set emptied.
func (s *Store) ConfirmPush(ctx context.Context, kind models.EntityKind, id string, confirm PushConfirm) (*models.SyncedEntity, error) {
	var out *models.SyncedEntity
	err := s.Transaction(ctx, func(tx *Store) error {
		e, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		dirty := e.ModifiedFieldList()
		remaining := dirty[:0:0]
		for _, f := range dirty {
			if !containsField(confirm.Pushed, f) {
				remaining = append(remaining, f)
			}
		}
		e.SetModifiedFieldList(remaining)
		if len(remaining) == 0 {
			e.LocalModifiedAt = nil
		}

		base := e.BaseValues()
		for _, f := range confirm.Pushed {
			base[f] = e.FieldValue(f)
		}
		e.Base = models.EncodeFieldValues(base)

		syncedAt := confirm.SyncedAt.UTC()
		e.LastSyncedAt = &syncedAt
		e.RemoteUpdatedAt = syncedAt
		if confirm.Version > 0 {
			e.Version = confirm.Version
		}
		if confirm.Raw != nil {
			e.Raw = confirm.Raw
		}
		if err := tx.db.WithContext(ctx).Save(e).Error; err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func isTracked(kind models.EntityKind, field string) bool {
	return containsField(models.TrackedFields(kind), field)
}

func containsField(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}

func appendField(fields []string, field string) []string {
	if containsField(fields, field) {
		return fields
	}
	return append(fields, field)
}

func sortedKeys(fv models.FieldValues) []string {
	keys := make([]string, 0, len(fv))
	for k := range fv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
