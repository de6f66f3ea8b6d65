// internal/sync/engine.go
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	"workspace-sync-service/pkg/models"
)

// ErrUnknownKind rejects sync requests for kinds no remote service is
// registered for.
var ErrUnknownKind = errors.New("unknown entity kind")

type Mode string

const (
	ModeFull     Mode = "full"
	ModePullOnly Mode = "pull-only"
	ModePushOnly Mode = "push-only"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ModeFull, nil
	case "pull-only", "pull":
		return ModePullOnly, nil
	case "push-only", "push":
		return ModePushOnly, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

// Policy decides how detected conflicts are handled during a pass.
type Policy string

const (
	PolicyManual      Policy = "manual"
	PolicyForceLocal  Policy = "force-local"
	PolicyForceRemote Policy = "force-remote"
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return PolicyManual, nil
	case "force-local", "local":
		return PolicyForceLocal, nil
	case "force-remote", "remote":
		return PolicyForceRemote, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

type Options struct {
	Mode   Mode
	DryRun bool
	Policy Policy
}

// Result aggregates one batch pass across every kind it covered.
type Result struct {
	Pulled              int       `json:"pulled"`
	Pushed              int       `json:"pushed"`
	Conflicts           int       `json:"conflicts"`
	Errors              int       `json:"errors"`
	Skipped             int       `json:"skipped"`
	UnresolvedConflicts int64     `json:"unresolved_conflicts"`
	DryRun              bool      `json:"dry_run"`
	StartedAt           time.Time `json:"started_at"`
	Duration            string    `json:"duration"`
}

// Clean reports whether the pass finished without errors and without
// unresolved conflicts left behind.
func (r *Result) Clean() bool {
	return r.Errors == 0 && r.UnresolvedConflicts == 0
}

func (r *Result) add(o *Result) {
	r.Pulled += o.Pulled
	r.Pushed += o.Pushed
	r.Conflicts += o.Conflicts
	r.Errors += o.Errors
	r.Skipped += o.Skipped
}

// LogArchiver exports audit rows to durable storage before they are pruned.
// Archive returns the object key it wrote.
type LogArchiver interface {
	Archive(ctx context.Context, entries []models.SyncLogEntry) (string, error)
}

type EngineConfig struct {
	PageSize int
	LogCap   int
}

// Engine wires the puller, pusher and resolver over a set of remote services
// and runs complete batch passes.
type Engine struct {
	store    *store.Store
	locks    *store.EntityLocks
	services map[models.EntityKind]remote.Service
	puller   *Puller
	pusher   *Pusher
	resolver *Resolver
	logCap   int
	archiver LogArchiver
}

func NewEngine(st *store.Store, locks *store.EntityLocks, services map[models.EntityKind]remote.Service, cfg EngineConfig, archiver LogArchiver) *Engine {
	return &Engine{
		store:    st,
		locks:    locks,
		services: services,
		puller:   NewPuller(st, locks, cfg.PageSize),
		pusher:   NewPusher(st, locks),
		resolver: NewResolver(st, locks, services),
		logCap:   cfg.LogCap,
		archiver: archiver,
	}
}

func (e *Engine) Resolver() *Resolver { return e.resolver }

// Resolve settles a recorded conflict through the engine's resolver.
func (e *Engine) Resolve(ctx context.Context, conflictID uuid.UUID, policy Policy, fields []string) (*models.ConflictRecord, error) {
	return e.resolver.Resolve(ctx, conflictID, policy, fields)
}

// Kinds lists the registered entity kinds in stable order.
func (e *Engine) Kinds() []models.EntityKind {
	kinds := make([]models.EntityKind, 0, len(e.services))
	for k := range e.services {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Sync runs one batch pass for the named kind ("all" or empty fans out to
// every registered kind, each on its own goroutine). Mode decides which of
// the pull and push phases run; within a kind pull always precedes push.
func (e *Engine) Sync(ctx context.Context, kind string, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.Policy == "" {
		opts.Policy = PolicyManual
	}
	kinds, err := e.resolveKinds(kind)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log.Printf("🔄 [SYNC] starting pass (kinds=%v, mode=%s, policy=%s, dry_run=%v)", kinds, opts.Mode, opts.Policy, opts.DryRun)

	res := &Result{DryRun: opts.DryRun, StartedAt: start.UTC()}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, k := range kinds {
		wg.Add(1)
		go func(k models.EntityKind) {
			defer wg.Done()
			kr := e.syncKind(ctx, k, opts)
			mu.Lock()
			res.add(kr)
			mu.Unlock()
		}(k)
	}
	wg.Wait()

	if n, err := e.store.CountUnresolvedConflicts(ctx); err == nil {
		res.UnresolvedConflicts = n
	} else {
		log.Printf("⚠️ [SYNC] counting unresolved conflicts: %v", err)
	}
	res.Duration = time.Since(start).Round(time.Millisecond).String()

	if !opts.DryRun {
		e.pruneAuditLog(ctx)
	}

	log.Printf("✅ [SYNC] pass finished in %s — pulled=%d pushed=%d conflicts=%d errors=%d skipped=%d unresolved=%d",
		res.Duration, res.Pulled, res.Pushed, res.Conflicts, res.Errors, res.Skipped, res.UnresolvedConflicts)
	return res, nil
}

func (e *Engine) syncKind(ctx context.Context, kind models.EntityKind, opts Options) *Result {
	svc := e.services[kind]
	kr := &Result{}

	if opts.Mode != ModePushOnly {
		cursor, err := e.store.Cursor(ctx, kind)
		if err != nil {
			kr.Errors++
			log.Printf("❌ [SYNC] load %s cursor: %v", kind, err)
			return kr
		}
		pr, err := e.puller.Pull(ctx, svc, cursor, PullOptions{DryRun: opts.DryRun, Policy: opts.Policy})
		kr.Pulled += pr.Pulled
		kr.Conflicts += pr.Conflicts
		kr.Errors += pr.Errors
		kr.Skipped += pr.Skipped
		if err != nil {
			log.Printf("🛑 [SYNC] %s pull aborted: %v", kind, err)
			if remote.IsAuth(err) || remote.IsCircuitOpen(err) {
				// the service is unusable, pushing against it would only
				// burn the same failures again
				return kr
			}
		}
	}

	if opts.Mode != ModePullOnly {
		ps, err := e.pusher.Push(ctx, svc, PushOptions{DryRun: opts.DryRun, Force: opts.Policy == PolicyForceLocal})
		kr.Pushed += ps.Pushed
		kr.Conflicts += ps.Conflicts
		kr.Errors += ps.Errors
		kr.Skipped += ps.Skipped
		if err != nil {
			log.Printf("🛑 [SYNC] %s push aborted: %v", kind, err)
		}
	}
	return kr
}

func (e *Engine) resolveKinds(kind string) ([]models.EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "all":
		return e.Kinds(), nil
	default:
		k := normalizeKind(kind)
		if _, ok := e.services[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		return []models.EntityKind{k}, nil
	}
}

func normalizeKind(s string) models.EntityKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "issue", "issues":
		return models.KindIssue
	case "page", "pages":
		return models.KindPage
	default:
		return models.EntityKind(strings.ToLower(strings.TrimSpace(s)))
	}
}

// pruneAuditLog trims the audit table back to the configured cap, exporting
// the overflow first when an archiver is wired. A failed export keeps the
// rows in place; they are retried on the next pass.
func (e *Engine) pruneAuditLog(ctx context.Context) {
	if e.logCap <= 0 {
		return
	}
	overflow, err := e.store.OverflowLogs(ctx, e.logCap)
	if err != nil {
		log.Printf("⚠️ [AUDIT] counting overflow rows: %v", err)
		return
	}
	if len(overflow) == 0 {
		return
	}
	if e.archiver != nil {
		key, err := e.archiver.Archive(ctx, overflow)
		if err != nil {
			log.Printf("⚠️ [AUDIT] archive failed, keeping %d overflow rows: %v", len(overflow), err)
			return
		}
		log.Printf("📦 [AUDIT] archived %d rows to %s", len(overflow), key)
	}
	ids := make([]uuid.UUID, 0, len(overflow))
	for _, entry := range overflow {
		ids = append(ids, entry.ID)
	}
	if err := e.store.DeleteLogs(ctx, ids); err != nil {
		log.Printf("⚠️ [AUDIT] pruning overflow rows: %v", err)
		return
	}
	log.Printf("🧹 [AUDIT] pruned %d rows beyond cap of %d", len(overflow), e.logCap)
}
