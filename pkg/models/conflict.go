// pkg/models/conflict.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConflictResolution string

const (
	ResolutionLocal  ConflictResolution = "local"
	ResolutionRemote ConflictResolution = "remote"
)

// ConflictRecord captures one detected divergence: both snapshots at detection
// time plus the exact subset of fields changed on both sides. Unresolved rows
// (Resolution nil) freeze their fields out of automatic push/pull.
type ConflictRecord struct {
	ID                uuid.UUID           `json:"id" gorm:"type:uuid;primaryKey"`
	Kind              EntityKind          `json:"kind" gorm:"type:varchar(16);not null;index:idx_conflict_entity"`
	RemoteID          string              `json:"remote_id" gorm:"type:varchar(64);not null;index:idx_conflict_entity"`
	LocalData         datatypes.JSON      `json:"local_data"`
	RemoteData        datatypes.JSON      `json:"remote_data"`
	ConflictingFields datatypes.JSON      `json:"conflicting_fields"` // []string
	Resolution        *ConflictResolution `json:"resolution,omitempty" gorm:"type:varchar(16);index"`
	DetectedAt        time.Time           `json:"detected_at"`
	ResolvedAt        *time.Time          `json:"resolved_at,omitempty"`
}

// TableName specifies the table name for ConflictRecord
func (ConflictRecord) TableName() string {
	return "sync_conflicts"
}

func (c *ConflictRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Resolved reports whether a resolution has been recorded.
func (c *ConflictRecord) Resolved() bool {
	return c.Resolution != nil
}

// FieldList decodes the conflicting-field column.
func (c *ConflictRecord) FieldList() []string {
	return decodeStringSlice(c.ConflictingFields)
}

// SetFieldList encodes and stores the conflicting-field set.
func (c *ConflictRecord) SetFieldList(fields []string) {
	c.ConflictingFields = mustJSON(fields)
}

// LocalValues decodes the local snapshot captured at detection time.
func (c *ConflictRecord) LocalValues() FieldValues {
	return DecodeFieldValues(c.LocalData)
}

// RemoteValues decodes the remote snapshot captured at detection time.
func (c *ConflictRecord) RemoteValues() FieldValues {
	return DecodeFieldValues(c.RemoteData)
}
