// internal/sync/puller.go
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	"workspace-sync-service/pkg/models"
)

type applyOutcome int

const (
	outcomeApplied applyOutcome = iota
	outcomeConflict
	outcomeSkipped
	outcomeError
)

// Puller fetches remote entities changed since the per-kind watermark and
// merges them into the snapshot store page by page.
type Puller struct {
	store    *store.Store
	locks    *store.EntityLocks
	pageSize int
}

func NewPuller(st *store.Store, locks *store.EntityLocks, pageSize int) *Puller {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Puller{store: st, locks: locks, pageSize: pageSize}
}

type PullOptions struct {
	DryRun bool
	Policy Policy
}

type PullResult struct {
	Pulled    int
	Conflicts int
	Errors    int
	Skipped   int
	Watermark time.Time
}

// Pull walks the changed-since listing from cursor. The watermark only moves
// after a whole page merged without entity errors; once any page fails it
// freezes for the rest of the run, so the next pass re-fetches from the
// failed page while already-applied entities no-op through the merge.
func (p *Puller) Pull(ctx context.Context, svc remote.Service, cursor time.Time, opts PullOptions) (*PullResult, error) {
	kind := svc.Kind()
	res := &PullResult{Watermark: cursor}
	token := ""
	advance := true

	for {
		page, err := svc.ListUpdatedSince(ctx, cursor, token, p.pageSize)
		if err != nil {
			res.Errors++
			if !opts.DryRun {
				p.logPull(ctx, kind, "", models.OutcomeError, map[string]any{"stage": "list", "error": err.Error()})
			}
			return res, fmt.Errorf("list %s changed since %s: %w", kind, cursor.UTC().Format(time.RFC3339), err)
		}

		var pageMax time.Time
		pageClean := true
		for i := range page.Entities {
			re := page.Entities[i]
			outcome, err := p.applyOne(ctx, kind, re, opts)
			switch outcome {
			case outcomeApplied:
				res.Pulled++
			case outcomeConflict:
				res.Conflicts++
			case outcomeSkipped:
				res.Skipped++
			case outcomeError:
				res.Errors++
				pageClean = false
				log.Printf("❌ [PULL] %s %s: %v", kind, re.ID, err)
				if !opts.DryRun {
					p.logPull(ctx, kind, re.ID, models.OutcomeError, map[string]any{"error": err.Error()})
				}
			}
			if re.UpdatedAt.After(pageMax) {
				pageMax = re.UpdatedAt
			}
		}

		if !pageClean {
			advance = false
		}
		if advance && !opts.DryRun && pageMax.After(res.Watermark) {
			if err := p.store.AdvanceCursor(ctx, kind, pageMax); err != nil {
				res.Errors++
				return res, fmt.Errorf("advance %s cursor: %w", kind, err)
			}
			res.Watermark = pageMax
		}

		if page.NextToken == "" {
			return res, nil
		}
		token = page.NextToken
	}
}

// applyOne merges one remote entity under its entity lock. Clean rows take
// the remote state wholesale; dirty rows go through three-way detection and a
// dirty-preserving partial merge.
func (p *Puller) applyOne(ctx context.Context, kind models.EntityKind, re remote.RemoteEntity, opts PullOptions) (applyOutcome, error) {
	unlock := p.locks.Lock(kind, re.ID)
	defer unlock()

	e, err := p.store.Get(ctx, kind, re.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return outcomeError, err
		}
		if opts.DryRun {
			return outcomeApplied, nil
		}
		e = &models.SyncedEntity{Kind: kind, RemoteID: re.ID}
		ApplyRemote(e, re, nil)
		if err := p.store.InsertRemote(ctx, e); err != nil {
			return outcomeError, err
		}
		p.logPull(ctx, kind, re.ID, models.OutcomeSuccess, map[string]any{"action": "created"})
		return outcomeApplied, nil
	}

	open, err := p.store.OpenConflict(ctx, kind, re.ID)
	if err != nil {
		return outcomeError, err
	}

	if !e.Dirty() && open == nil {
		if e.LastSyncedAt != nil && !re.UpdatedAt.After(e.RemoteUpdatedAt) {
			return outcomeSkipped, nil // already at or beyond this remote state
		}
		if opts.DryRun {
			return outcomeApplied, nil
		}
		ApplyRemote(e, re, nil)
		if err := p.store.UpdateSynced(ctx, e); err != nil {
			return outcomeError, err
		}
		p.logPull(ctx, kind, re.ID, models.OutcomeSuccess, map[string]any{"action": "updated"})
		return outcomeApplied, nil
	}

	conflicting := DetectConflicts(e, re.Fields)

	switch {
	case len(conflicting) > 0 && opts.Policy == PolicyForceRemote:
		if opts.DryRun {
			return outcomeConflict, nil
		}
		if err := p.forceRemote(ctx, e, re, conflicting); err != nil {
			return outcomeError, err
		}
		p.logPull(ctx, kind, re.ID, models.OutcomeConflict, map[string]any{"fields": conflicting, "forced": "remote"})
		return outcomeConflict, nil

	case len(conflicting) > 0 && opts.Policy == PolicyForceLocal:
		if opts.DryRun {
			return outcomeConflict, nil
		}
		if err := p.forceLocal(ctx, e, re, conflicting); err != nil {
			return outcomeError, err
		}
		p.logPull(ctx, kind, re.ID, models.OutcomeConflict, map[string]any{"fields": conflicting, "forced": "local"})
		return outcomeConflict, nil

	case len(conflicting) > 0:
		if opts.DryRun {
			return outcomeConflict, nil
		}
		frozen := unionFields(conflicting, openFields(open))
		err := p.store.Transaction(ctx, func(tx *store.Store) error {
			if _, _, err := tx.SaveConflict(ctx, kind, re.ID, e.Snapshot(), re.Fields, frozen); err != nil {
				return err
			}
			ApplyRemote(e, re, frozen)
			return tx.UpdateSynced(ctx, e)
		})
		if err != nil {
			return outcomeError, err
		}
		p.logPull(ctx, kind, re.ID, models.OutcomeConflict, map[string]any{"fields": frozen})
		return outcomeConflict, nil

	default:
		// dirty but nothing truly conflicting: merge the remote-only fields,
		// keep every dirty marker untouched
		if opts.DryRun {
			return outcomeApplied, nil
		}
		ApplyRemote(e, re, openFields(open))
		if err := p.store.UpdateSynced(ctx, e); err != nil {
			return outcomeError, err
		}
		p.logPull(ctx, kind, re.ID, models.OutcomeSuccess, map[string]any{"action": "merged", "dirty": e.ModifiedFieldList()})
		return outcomeApplied, nil
	}
}

// forceRemote resolves a fresh conflict in the remote's favor inline: records
// the conflict already resolved for the audit trail, drops the conflicting
// dirty markers and takes the remote values.
func (p *Puller) forceRemote(ctx context.Context, e *models.SyncedEntity, re remote.RemoteEntity, conflicting []string) error {
	return p.store.Transaction(ctx, func(tx *store.Store) error {
		rec, _, err := tx.SaveConflict(ctx, e.Kind, e.RemoteID, e.Snapshot(), re.Fields, conflicting)
		if err != nil {
			return err
		}
		if err := tx.MarkConflictResolved(ctx, rec, models.ResolutionRemote); err != nil {
			return err
		}
		var remaining []string
		for _, f := range e.ModifiedFieldList() {
			if !containsStr(conflicting, f) {
				remaining = append(remaining, f)
			}
		}
		e.SetModifiedFieldList(remaining)
		if len(remaining) == 0 {
			e.LocalModifiedAt = nil
		}
		ApplyRemote(e, re, nil)
		return tx.UpdateSynced(ctx, e)
	})
}

// forceLocal resolves a fresh conflict in the local values' favor: records it
// resolved, keeps the local values and markers so the push phase (running
// with the race check disabled) sends them out.
func (p *Puller) forceLocal(ctx context.Context, e *models.SyncedEntity, re remote.RemoteEntity, conflicting []string) error {
	return p.store.Transaction(ctx, func(tx *store.Store) error {
		rec, _, err := tx.SaveConflict(ctx, e.Kind, e.RemoteID, e.Snapshot(), re.Fields, conflicting)
		if err != nil {
			return err
		}
		if err := tx.MarkConflictResolved(ctx, rec, models.ResolutionLocal); err != nil {
			return err
		}
		ApplyRemote(e, re, conflicting)
		return tx.UpdateSynced(ctx, e)
	})
}

func (p *Puller) logPull(ctx context.Context, kind models.EntityKind, id string, outcome models.SyncOutcome, details map[string]any) {
	if err := p.store.Log(ctx, kind, id, models.DirectionPull, outcome, details); err != nil {
		log.Printf("⚠️ [PULL] failed to write sync log for %s %s: %v", kind, id, err)
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func unionFields(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, f := range b {
		if !containsStr(out, f) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func openFields(c *models.ConflictRecord) []string {
	if c == nil {
		return nil
	}
	return c.FieldList()
}
