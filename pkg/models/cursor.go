// pkg/models/cursor.go
package models

import "time"

// SyncCursor persists the incremental-pull watermark per entity kind. The
// watermark carries the remote service's own modification timestamps, never
// local wall-clock, so clock skew cannot skip updates.
type SyncCursor struct {
	Kind      EntityKind `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	Watermark time.Time  `json:"watermark"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName specifies the table name for SyncCursor
func (SyncCursor) TableName() string {
	return "sync_cursors"
}
