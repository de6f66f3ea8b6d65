// internal/sync/resolver.go
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	"workspace-sync-service/pkg/models"
)

var (
	ErrConflictResolved   = errors.New("conflict already resolved")
	ErrFieldNotInConflict = errors.New("field is not part of the conflict")
	ErrUnknownPolicy      = errors.New("unknown resolution policy")
)

// Resolver applies force-local / force-remote decisions to recorded
// conflicts, whole or per field.
type Resolver struct {
	store    *store.Store
	locks    *store.EntityLocks
	services map[models.EntityKind]remote.Service
}

func NewResolver(st *store.Store, locks *store.EntityLocks, services map[models.EntityKind]remote.Service) *Resolver {
	return &Resolver{store: st, locks: locks, services: services}
}

// Resolve settles a conflict with the given policy. A non-empty fields slice
// settles only that subset; the leftover fields are re-raised as a fresh,
// smaller conflict so they stay frozen. Returns the resolved record.
func (r *Resolver) Resolve(ctx context.Context, conflictID uuid.UUID, policy Policy, fields []string) (*models.ConflictRecord, error) {
	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Resolved() {
		return nil, ErrConflictResolved
	}

	all := c.FieldList()
	subset := fields
	if len(subset) == 0 {
		subset = all
	}
	for _, f := range subset {
		if !containsStr(all, f) {
			return nil, fmt.Errorf("%w: %q", ErrFieldNotInConflict, f)
		}
	}
	var remainder []string
	for _, f := range all {
		if !containsStr(subset, f) {
			remainder = append(remainder, f)
		}
	}

	unlock := r.locks.Lock(c.Kind, c.RemoteID)
	defer unlock()

	switch policy {
	case PolicyForceRemote:
		err = r.resolveRemote(ctx, c, subset, remainder)
	case PolicyForceLocal:
		err = r.resolveLocal(ctx, c, subset, remainder)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	if err != nil {
		return nil, err
	}
	return r.store.GetConflict(ctx, conflictID)
}

// resolveRemote takes the remote snapshot values for the subset, clears their
// dirty markers and advances their base, all in one transaction.
func (r *Resolver) resolveRemote(ctx context.Context, c *models.ConflictRecord, subset, remainder []string) error {
	remoteValues := c.RemoteValues()
	err := r.store.Transaction(ctx, func(tx *store.Store) error {
		e, err := tx.Get(ctx, c.Kind, c.RemoteID)
		if err != nil {
			return err
		}
		base := e.BaseValues()
		var remaining []string
		for _, f := range e.ModifiedFieldList() {
			if !containsStr(subset, f) {
				remaining = append(remaining, f)
			}
		}
		for _, f := range subset {
			if v, ok := remoteValues[f]; ok {
				if err := e.SetField(f, v); err != nil {
					return err
				}
				base[f] = v
			}
		}
		e.Base = models.EncodeFieldValues(base)
		e.SetModifiedFieldList(remaining)
		if len(remaining) == 0 {
			e.LocalModifiedAt = nil
		}
		if err := tx.UpdateSynced(ctx, e); err != nil {
			return err
		}
		if err := tx.MarkConflictResolved(ctx, c, models.ResolutionRemote); err != nil {
			return err
		}
		return reraise(ctx, tx, c, remainder)
	})
	if err != nil {
		return err
	}
	r.logResolve(ctx, c, models.DirectionPull, "remote", subset, remainder)
	return nil
}

// resolveLocal pushes the subset's local values out immediately (race check
// skipped, the operator just decided they win) and clears their markers. For
// subset fields the remote side cannot take, the base advances to the current
// remote value so the next pull does not re-flag them.
func (r *Resolver) resolveLocal(ctx context.Context, c *models.ConflictRecord, subset, remainder []string) error {
	svc, ok := r.services[c.Kind]
	if !ok {
		return fmt.Errorf("no remote service registered for kind %q", c.Kind)
	}
	e, err := r.store.Get(ctx, c.Kind, c.RemoteID)
	if err != nil {
		return err
	}

	var pushable, held []string
	for _, f := range subset {
		if models.IsPushable(c.Kind, f) {
			pushable = append(pushable, f)
		} else {
			held = append(held, f)
		}
	}

	current, err := svc.Get(ctx, c.RemoteID)
	if err != nil {
		return fmt.Errorf("refetch before force-local push: %w", err)
	}

	updated := current
	if len(pushable) > 0 {
		payload := models.FieldValues{}
		for _, f := range pushable {
			payload[f] = e.FieldValue(f)
		}
		updated, err = svc.UpdateFields(ctx, c.RemoteID, payload, current.Version)
		if err != nil {
			return fmt.Errorf("force-local push: %w", err)
		}
	}

	err = r.store.Transaction(ctx, func(tx *store.Store) error {
		e, err := tx.Get(ctx, c.Kind, c.RemoteID)
		if err != nil {
			return err
		}
		base := e.BaseValues()
		var remaining []string
		for _, f := range e.ModifiedFieldList() {
			if !containsStr(pushable, f) {
				remaining = append(remaining, f)
			}
		}
		for _, f := range pushable {
			base[f] = e.FieldValue(f)
		}
		for _, f := range held {
			if v, ok := current.Fields[f]; ok {
				base[f] = v
			}
		}
		e.Base = models.EncodeFieldValues(base)
		e.SetModifiedFieldList(remaining)
		if len(remaining) == 0 {
			e.LocalModifiedAt = nil
		}
		syncedAt := updated.UpdatedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now().UTC()
		}
		e.LastSyncedAt = &syncedAt
		e.RemoteUpdatedAt = syncedAt
		if updated.Version > 0 {
			e.Version = updated.Version
		}
		if len(updated.Raw) > 0 {
			e.Raw = updated.Raw
		}
		if err := tx.UpdateSynced(ctx, e); err != nil {
			return err
		}
		if err := tx.MarkConflictResolved(ctx, c, models.ResolutionLocal); err != nil {
			return err
		}
		return reraise(ctx, tx, c, remainder)
	})
	if err != nil {
		return err
	}
	r.logResolve(ctx, c, models.DirectionPush, "local", subset, remainder)
	return nil
}

// reraise records the unsettled leftover fields as a fresh unresolved
// conflict carrying the same snapshots.
func reraise(ctx context.Context, tx *store.Store, c *models.ConflictRecord, remainder []string) error {
	if len(remainder) == 0 {
		return nil
	}
	_, _, err := tx.SaveConflict(ctx, c.Kind, c.RemoteID, c.LocalValues(), c.RemoteValues(), remainder)
	return err
}

func (r *Resolver) logResolve(ctx context.Context, c *models.ConflictRecord, direction models.SyncDirection, policy string, subset, remainder []string) {
	details := map[string]any{
		"action":      "resolve",
		"conflict_id": c.ID.String(),
		"policy":      policy,
		"fields":      subset,
	}
	if len(remainder) > 0 {
		details["reraised"] = remainder
	}
	if err := r.store.Log(ctx, c.Kind, c.RemoteID, direction, models.OutcomeSuccess, details); err != nil {
		log.Printf("⚠️ [RESOLVE] failed to write sync log for %s %s: %v", c.Kind, c.RemoteID, err)
	}
}
