// pkg/models/operation.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationApproved  OperationStatus = "approved"
	OperationExecuting OperationStatus = "executing"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationCancelled OperationStatus = "cancelled"
)

// Operation types, registered per entity kind in the executor's handler table.
const (
	OpUpdateField = "update_field"
	OpTransition  = "transition"
	OpLink        = "link"
	OpUpdate      = "update"
	OpMerge       = "merge"
	OpMove        = "move"
	OpLabel       = "label"
	OpArchive     = "archive"
)

// Operation is a queued, approvable mutation spanning one or more entities.
// Status moves pending → approved → executing → completed|failed; cancellation
// is only allowed from pending or approved.
type Operation struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	Kind      EntityKind      `json:"kind" gorm:"type:varchar(16);not null;index"`
	Type      string          `json:"type" gorm:"type:varchar(32);not null"`
	TargetIDs datatypes.JSON  `json:"target_ids"` // []string
	Params    datatypes.JSON  `json:"params,omitempty"`
	Preview   datatypes.JSON  `json:"preview,omitempty"`
	Status    OperationStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`

	CreatedBy  string `json:"created_by" gorm:"type:varchar(128)"`
	ApprovedBy string `json:"approved_by,omitempty" gorm:"type:varchar(128)"`

	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty" gorm:"type:text"`
}

// TableName specifies the table name for Operation
func (Operation) TableName() string {
	return "content_operations"
}

func (o *Operation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Targets decodes the target entity id list.
func (o *Operation) Targets() []string {
	return decodeStringSlice(o.TargetIDs)
}

// SetTargets encodes and stores the target entity id list.
func (o *Operation) SetTargets(ids []string) {
	o.TargetIDs = mustJSON(ids)
}

// HistorySnapshot records one entity's before/after state for an executed
// operation. Immutable except for the rollback flag.
type HistorySnapshot struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	OperationID   uuid.UUID      `json:"operation_id" gorm:"type:uuid;not null;index"`
	Kind          EntityKind     `json:"kind" gorm:"type:varchar(16);not null"`
	RemoteID      string         `json:"remote_id" gorm:"type:varchar(64);not null;index"`
	BeforeData    datatypes.JSON `json:"before_data"`
	AfterData     datatypes.JSON `json:"after_data"`
	ChangedFields datatypes.JSON `json:"changed_fields"` // []string
	RolledBack    bool           `json:"rolled_back" gorm:"not null;default:false"`
	RolledBackAt  *time.Time     `json:"rolled_back_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TableName specifies the table name for HistorySnapshot
func (HistorySnapshot) TableName() string {
	return "content_history"
}

func (h *HistorySnapshot) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// ChangedFieldList decodes the changed-field column.
func (h *HistorySnapshot) ChangedFieldList() []string {
	return decodeStringSlice(h.ChangedFields)
}

// SetChangedFields encodes and stores the changed-field list.
func (h *HistorySnapshot) SetChangedFields(fields []string) {
	h.ChangedFields = mustJSON(fields)
}

// AfterValues decodes the after-state snapshot.
func (h *HistorySnapshot) AfterValues() FieldValues {
	return DecodeFieldValues(h.AfterData)
}

// BeforeValues decodes the before-state snapshot.
func (h *HistorySnapshot) BeforeValues() FieldValues {
	return DecodeFieldValues(h.BeforeData)
}
