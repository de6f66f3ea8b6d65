// pkg/models/entity.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// EntityKind identifies which remote service owns an entity.
type EntityKind string

const (
	KindIssue EntityKind = "issue"
	KindPage  EntityKind = "page"
)

// Field names recognized by the conflict detector. Anything the remote sends
// outside this set rides along inside Raw and never participates in three-way
// comparison.
const (
	FieldTitle    = "title"
	FieldStatus   = "status"
	FieldBody     = "body"
	FieldPriority = "priority"
	FieldAssignee = "assignee"
	FieldLabels   = "labels"
	FieldParentID = "parent_id"
)

// SyncedEntity is the local snapshot of one remote object (issue or page).
// Typed columns hold the current local values; Base holds the typed snapshot
// as of the last successful sync and is only ever written by sync-origin code —
// it is the common ancestor for three-way conflict detection.
type SyncedEntity struct {
	Kind     EntityKind `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	RemoteID string     `json:"remote_id" gorm:"primaryKey;type:varchar(64)"`

	Title    string         `json:"title" gorm:"type:text"`
	Status   string         `json:"status" gorm:"type:varchar(64);index"`
	Body     string         `json:"body" gorm:"type:text"`
	Priority string         `json:"priority" gorm:"type:varchar(64)"`
	Assignee string         `json:"assignee" gorm:"type:varchar(128)"`
	Labels   datatypes.JSON `json:"labels,omitempty"`                          // []string
	ParentID string         `json:"parent_id,omitempty" gorm:"type:varchar(64)"` // pages only
	Space    string         `json:"space" gorm:"type:varchar(64);index"` // project key / space id
	Version  int            `json:"version"`                             // wiki optimistic-concurrency number

	Raw  datatypes.JSON `json:"raw,omitempty"`  // full remote payload, opaque extension data
	Base datatypes.JSON `json:"base,omitempty"` // typed snapshot at last sync

	RemoteUpdatedAt     time.Time      `json:"remote_updated_at"`
	LastSyncedAt        *time.Time     `json:"last_synced_at" gorm:"index"`
	LocalModifiedAt     *time.Time     `json:"local_modified_at" gorm:"index"`
	LocalModifiedFields datatypes.JSON `json:"local_modified_fields,omitempty"` // []string

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for SyncedEntity
func (SyncedEntity) TableName() string {
	return "synced_entities"
}

// Dirty reports whether the entity carries unpushed local modifications.
func (e *SyncedEntity) Dirty() bool {
	return e.LocalModifiedAt != nil
}
