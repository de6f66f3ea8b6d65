// pkg/models/synclog.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SyncDirection string

const (
	DirectionPull      SyncDirection = "pull"
	DirectionPush      SyncDirection = "push"
	DirectionOperation SyncDirection = "operation"
)

type SyncOutcome string

const (
	OutcomeSuccess  SyncOutcome = "success"
	OutcomeConflict SyncOutcome = "conflict"
	OutcomeError    SyncOutcome = "error"
	OutcomeSkipped  SyncOutcome = "skipped"
)

// SyncLogEntry is the append-only audit row for every pull/push/operation
// attempt. Kind/RemoteID are empty for batch-level entries. Write-once.
type SyncLogEntry struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Kind      EntityKind     `json:"kind,omitempty" gorm:"type:varchar(16);index:idx_synclog_entity"`
	RemoteID  string         `json:"remote_id,omitempty" gorm:"type:varchar(64);index:idx_synclog_entity"`
	Direction SyncDirection  `json:"direction" gorm:"type:varchar(16);not null;index"`
	Outcome   SyncOutcome    `json:"outcome" gorm:"type:varchar(16);not null;index"`
	Details   datatypes.JSON `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for SyncLogEntry
func (SyncLogEntry) TableName() string {
	return "sync_logs"
}

func (l *SyncLogEntry) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
