// internal/sync/pusher.go
package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	"workspace-sync-service/pkg/models"
)

// Pusher sends locally modified fields out to the remote service, one entity
// at a time, and clears exactly the markers it managed to push.
type Pusher struct {
	store *store.Store
	locks *store.EntityLocks
}

func NewPusher(st *store.Store, locks *store.EntityLocks) *Pusher {
	return &Pusher{store: st, locks: locks}
}

type PushOptions struct {
	DryRun bool
	// Force skips the pre-push race check; used by force-local flows that
	// have already decided the local values win.
	Force bool
}

type PushResult struct {
	Pushed    int
	Conflicts int
	Errors    int
	Skipped   int
}

// Push walks every dirty entity of the service's kind. Entities frozen by an
// unresolved conflict are excluded upstream by the dirty query. A failed
// entity never blocks the rest, except auth failures and an open circuit,
// which abort the remaining batch for this service.
func (p *Pusher) Push(ctx context.Context, svc remote.Service, opts PushOptions) (*PushResult, error) {
	kind := svc.Kind()
	entities, err := p.store.DirtyEntities(ctx, kind)
	if err != nil {
		return &PushResult{Errors: 1}, fmt.Errorf("list dirty %s: %w", kind, err)
	}

	res := &PushResult{}
	for i := range entities {
		outcome, err := p.pushOne(ctx, svc, entities[i].RemoteID, opts)
		switch outcome {
		case outcomeApplied:
			res.Pushed++
		case outcomeConflict:
			res.Conflicts++
		case outcomeSkipped:
			res.Skipped++
		case outcomeError:
			res.Errors++
			log.Printf("❌ [PUSH] %s %s: %v", kind, entities[i].RemoteID, err)
			if remote.IsAuth(err) || remote.IsCircuitOpen(err) {
				return res, fmt.Errorf("push %s aborted: %w", kind, err)
			}
		}
	}
	return res, nil
}

func (p *Pusher) pushOne(ctx context.Context, svc remote.Service, id string, opts PushOptions) (applyOutcome, error) {
	kind := svc.Kind()
	unlock := p.locks.Lock(kind, id)
	defer unlock()

	e, err := p.store.Get(ctx, kind, id)
	if err != nil {
		return outcomeError, err
	}
	if !e.Dirty() {
		return outcomeSkipped, nil // pulled clean while we waited on the lock
	}

	var pushable, held []string
	for _, f := range e.ModifiedFieldList() {
		if models.IsPushable(kind, f) {
			pushable = append(pushable, f)
		} else {
			held = append(held, f)
		}
	}
	if len(pushable) == 0 {
		if !opts.DryRun {
			p.logPush(ctx, kind, id, models.OutcomeSkipped, map[string]any{"reason": "no pushable fields", "held": held})
		}
		return outcomeSkipped, nil
	}

	version := e.Version
	if !opts.Force {
		current, err := svc.Get(ctx, id)
		if err != nil {
			if !opts.DryRun {
				p.logPush(ctx, kind, id, models.OutcomeError, map[string]any{"stage": "refetch", "error": err.Error()})
			}
			return outcomeError, err
		}
		if conflicting := DetectConflicts(e, current.Fields); len(conflicting) > 0 {
			if opts.DryRun {
				return outcomeConflict, nil
			}
			if _, _, err := p.store.SaveConflict(ctx, kind, id, e.Snapshot(), current.Fields, conflicting); err != nil {
				return outcomeError, err
			}
			p.logPush(ctx, kind, id, models.OutcomeConflict, map[string]any{"fields": conflicting, "stage": "pre-push"})
			return outcomeConflict, nil
		}
		if current.Version > 0 {
			version = current.Version
		}
	}

	if opts.DryRun {
		return outcomeApplied, nil
	}

	payload := models.FieldValues{}
	for _, f := range pushable {
		payload[f] = e.FieldValue(f)
	}

	updated, err := svc.UpdateFields(ctx, id, payload, version)
	if err != nil {
		if remote.IsVersionConflict(err) {
			// somebody saved a newer revision between our check and the write
			remoteFields := models.FieldValues{}
			if cur, gerr := svc.Get(ctx, id); gerr == nil {
				remoteFields = cur.Fields
			}
			if _, _, serr := p.store.SaveConflict(ctx, kind, id, e.Snapshot(), remoteFields, pushable); serr != nil {
				return outcomeError, serr
			}
			p.logPush(ctx, kind, id, models.OutcomeConflict, map[string]any{"fields": pushable, "stage": "version"})
			return outcomeConflict, nil
		}
		// validation and exhausted-transient errors leave the entity dirty
		p.logPush(ctx, kind, id, models.OutcomeError, map[string]any{"fields": pushable, "error": err.Error()})
		return outcomeError, err
	}

	syncedAt := updated.UpdatedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	confirm := store.PushConfirm{
		Pushed:   pushable,
		SyncedAt: syncedAt,
		Version:  updated.Version,
		Raw:      updated.Raw,
	}
	if _, err := p.store.ConfirmPush(ctx, kind, id, confirm); err != nil {
		return outcomeError, err
	}
	if len(held) > 0 {
		p.logPush(ctx, kind, id, models.OutcomeSkipped, map[string]any{"reason": "not pushable", "held": held})
	}
	p.logPush(ctx, kind, id, models.OutcomeSuccess, map[string]any{"fields": pushable})
	return outcomeApplied, nil
}

func (p *Pusher) logPush(ctx context.Context, kind models.EntityKind, id string, outcome models.SyncOutcome, details map[string]any) {
	if err := p.store.Log(ctx, kind, id, models.DirectionPush, outcome, details); err != nil {
		log.Printf("⚠️ [PUSH] failed to write sync log for %s %s: %v", kind, id, err)
	}
}
