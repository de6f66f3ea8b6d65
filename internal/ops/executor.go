// internal/ops/executor.go
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	syncengine "workspace-sync-service/internal/sync"
	"workspace-sync-service/pkg/models"
)

// Executor drives the operation queue: create with preview, approve, cancel,
// execute against the remote services, and roll executed changes back from
// their history snapshots.
type Executor struct {
	store    *store.Store
	locks    *store.EntityLocks
	registry *Registry
}

func NewExecutor(st *store.Store, locks *store.EntityLocks, registry *Registry) *Executor {
	return &Executor{store: st, locks: locks, registry: registry}
}

// Create validates the request, renders a per-target preview without touching
// the remote side, and queues the operation as pending.
func (x *Executor) Create(ctx context.Context, kind models.EntityKind, opType string, targets []string, params models.FieldValues, createdBy string) (*models.Operation, error) {
	handler, err := x.registry.Lookup(kind, opType)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: operation needs at least one target", ErrInvalidParams)
	}
	if err := handler.Validate(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	previews := make([]map[string]any, 0, len(targets))
	for _, id := range targets {
		e, err := x.store.Get(ctx, kind, id)
		if err != nil {
			return nil, fmt.Errorf("target %s/%s is not synced locally: %w", kind, id, err)
		}
		pv, err := handler.Preview(ctx, e, params)
		if err != nil {
			return nil, err
		}
		pv["target"] = id
		previews = append(previews, pv)
	}
	previewJSON, err := json.Marshal(previews)
	if err != nil {
		return nil, err
	}

	op := &models.Operation{
		Kind:      kind,
		Type:      opType,
		Params:    models.EncodeFieldValues(params),
		Preview:   datatypes.JSON(previewJSON),
		Status:    models.OperationPending,
		CreatedBy: createdBy,
	}
	op.SetTargets(targets)
	if err := x.store.CreateOperation(ctx, op); err != nil {
		return nil, err
	}
	x.logOp(ctx, op, models.OutcomeSuccess, map[string]any{"action": "created", "targets": len(targets)})
	return op, nil
}

// Approve moves a pending operation to approved.
func (x *Executor) Approve(ctx context.Context, id uuid.UUID, approvedBy string) (*models.Operation, error) {
	now := time.Now().UTC()
	op, err := x.store.TransitionOperation(ctx, id,
		[]models.OperationStatus{models.OperationPending}, models.OperationApproved,
		func(o *models.Operation) {
			o.ApprovedBy = approvedBy
			o.ApprovedAt = &now
		})
	if err != nil {
		return nil, err
	}
	x.logOp(ctx, op, models.OutcomeSuccess, map[string]any{"action": "approved", "by": approvedBy})
	return op, nil
}

// Cancel withdraws an operation that has not started executing.
func (x *Executor) Cancel(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	now := time.Now().UTC()
	op, err := x.store.TransitionOperation(ctx, id,
		[]models.OperationStatus{models.OperationPending, models.OperationApproved}, models.OperationCancelled,
		func(o *models.Operation) {
			o.CancelledAt = &now
		})
	if err != nil {
		return nil, err
	}
	x.logOp(ctx, op, models.OutcomeSuccess, map[string]any{"action": "cancelled"})
	return op, nil
}

// Execute runs an approved operation target by target. Every successfully
// applied target gets a history snapshot even when a later target fails; a
// partial failure finishes the operation as failed with the per-target
// errors recorded.
func (x *Executor) Execute(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	// An executing operation runs to completion; a dropped request must not
	// strand it mid-flight in executing.
	ctx = context.WithoutCancel(ctx)

	op, err := x.store.TransitionOperation(ctx, id,
		[]models.OperationStatus{models.OperationApproved}, models.OperationExecuting, nil)
	if err != nil {
		return nil, err
	}
	handler, err := x.registry.Lookup(op.Kind, op.Type)
	if err != nil {
		return x.finish(ctx, op.ID, err.Error())
	}

	params := models.DecodeFieldValues(op.Params)
	var failures []string
	for _, target := range op.Targets() {
		if err := x.executeTarget(ctx, op, handler, target, params); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", target, err))
			log.Printf("❌ [OPS] %s operation %s on %s: %v", op.Type, op.ID, target, err)
		}
	}

	if len(failures) > 0 {
		return x.finish(ctx, op.ID, strings.Join(failures, "; "))
	}
	return x.finish(ctx, op.ID, "")
}

func (x *Executor) finish(ctx context.Context, id uuid.UUID, errMsg string) (*models.Operation, error) {
	now := time.Now().UTC()
	final := models.OperationCompleted
	outcome := models.OutcomeSuccess
	var msg *string
	if errMsg != "" {
		final = models.OperationFailed
		outcome = models.OutcomeError
		msg = &errMsg
	}
	op, err := x.store.TransitionOperation(ctx, id,
		[]models.OperationStatus{models.OperationExecuting}, final,
		func(o *models.Operation) {
			o.ExecutedAt = &now
			o.ErrorMessage = msg
		})
	if err != nil {
		return nil, err
	}
	details := map[string]any{"action": "executed", "status": string(final)}
	if msg != nil {
		details["error"] = *msg
	}
	x.logOp(ctx, op, outcome, details)
	return op, nil
}

// executeTarget applies the operation to one entity under its lock, folds the
// remote post-state into the snapshot store and records the before/after
// history row. Fields the operation set supersede pending local edits to the
// same fields.
func (x *Executor) executeTarget(ctx context.Context, op *models.Operation, handler Handler, target string, params models.FieldValues) error {
	unlock := x.locks.Lock(op.Kind, target)
	defer unlock()

	e, err := x.store.Get(ctx, op.Kind, target)
	if err != nil {
		return err
	}
	before := e.Snapshot()

	post, changed, err := handler.Apply(ctx, e, params)
	if err != nil {
		return err
	}

	if err := x.applyPostState(ctx, e, post, changed); err != nil {
		return err
	}

	h := &models.HistorySnapshot{
		OperationID: op.ID,
		Kind:        op.Kind,
		RemoteID:    target,
		BeforeData:  models.EncodeFieldValues(before),
		AfterData:   models.EncodeFieldValues(e.Snapshot()),
	}
	h.SetChangedFields(changed)
	return x.store.CreateHistory(ctx, h)
}

// applyPostState folds a remote post-state back into the local row. Markers
// for the fields the operation changed are dropped first so the new remote
// values land; other local edits survive, and ones now colliding with the
// remote state stay frozen for the next pull pass to flag.
func (x *Executor) applyPostState(ctx context.Context, e *models.SyncedEntity, post *remote.RemoteEntity, changed []string) error {
	var remaining []string
	for _, f := range e.ModifiedFieldList() {
		if !contains(changed, f) {
			remaining = append(remaining, f)
		}
	}
	e.SetModifiedFieldList(remaining)
	if len(remaining) == 0 {
		e.LocalModifiedAt = nil
	}
	frozen := syncengine.DetectConflicts(e, post.Fields)
	syncengine.ApplyRemote(e, *post, frozen)
	return x.store.UpdateSynced(ctx, e)
}

// Rollback restores one history snapshot's before-state on the remote side
// and mirrors it locally. Each snapshot can be rolled back exactly once.
func (x *Executor) Rollback(ctx context.Context, historyID uuid.UUID) (*models.HistorySnapshot, error) {
	h, err := x.store.GetHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if h.RolledBack {
		return nil, store.ErrAlreadyRolledBack
	}
	op, err := x.store.GetOperation(ctx, h.OperationID)
	if err != nil {
		return nil, err
	}
	handler, err := x.registry.Lookup(op.Kind, op.Type)
	if err != nil {
		return nil, err
	}

	unlock := x.locks.Lock(h.Kind, h.RemoteID)
	defer unlock()

	post, err := handler.Revert(ctx, h)
	if err != nil {
		return nil, err
	}

	e, err := x.store.Get(ctx, h.Kind, h.RemoteID)
	if err != nil {
		return nil, err
	}
	if err := x.applyPostState(ctx, e, post, h.ChangedFieldList()); err != nil {
		return nil, err
	}

	h, err = x.store.MarkRolledBack(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	x.logOp(ctx, op, models.OutcomeSuccess, map[string]any{
		"action":     "rolled_back",
		"history_id": h.ID.String(),
		"entity":     h.RemoteID,
		"fields":     h.ChangedFieldList(),
	})
	return h, nil
}

func (x *Executor) logOp(ctx context.Context, op *models.Operation, outcome models.SyncOutcome, details map[string]any) {
	details["operation_id"] = op.ID.String()
	details["type"] = op.Type
	if err := x.store.Log(ctx, op.Kind, "", models.DirectionOperation, outcome, details); err != nil {
		log.Printf("⚠️ [OPS] failed to write sync log for operation %s: %v", op.ID, err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
