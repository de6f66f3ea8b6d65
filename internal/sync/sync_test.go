// internal/sync/sync_test.go
package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	"workspace-sync-service/pkg/models"
)

var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))
	return store.New(db)
}

// insertSynced seeds a local row the way the puller would have created it.
func insertSynced(t *testing.T, st *store.Store, re remote.RemoteEntity) *models.SyncedEntity {
	t.Helper()
	e := &models.SyncedEntity{Kind: re.Kind, RemoteID: re.ID}
	ApplyRemote(e, re, nil)
	require.NoError(t, st.InsertRemote(context.Background(), e))
	return e
}

// issueEntity builds a remote issue with every tracked field set; overrides
// patch individual fields.
func issueEntity(id string, updated time.Time, overrides models.FieldValues) remote.RemoteEntity {
	fields := models.FieldValues{
		"title":    "Issue " + id,
		"status":   "To Do",
		"body":     "body of " + id,
		"priority": "Medium",
		"assignee": "",
		"labels":   []string{},
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return remote.RemoteEntity{
		Kind:      models.KindIssue,
		ID:        id,
		Space:     "PROJ",
		Fields:    fields,
		UpdatedAt: updated,
		Raw:       datatypes.JSON(`{"key":"` + id + `"}`),
	}
}

func pageEntity(id string, updated time.Time, version int, overrides models.FieldValues) remote.RemoteEntity {
	fields := models.FieldValues{
		"title":     "Page " + id,
		"status":    "current",
		"body":      "<p>body of " + id + "</p>",
		"labels":    []string{},
		"parent_id": "",
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return remote.RemoteEntity{
		Kind:      models.KindPage,
		ID:        id,
		Space:     "DOCS",
		Fields:    fields,
		UpdatedAt: updated,
		Version:   version,
		Raw:       datatypes.JSON(`{"id":"` + id + `"}`),
	}
}

type fakePage struct {
	entities []remote.RemoteEntity
	err      error
}

type fakeUpdate struct {
	ID      string
	Fields  models.FieldValues
	Version int
}

// fakeService is an in-memory remote.Service. Each run is the page sequence
// one Pull consumes; a fresh Pull (empty page token) moves to the next queued
// run, and further pulls keep replaying the last one. Entities queued through
// addRun or seed also serve Get and UpdateFields.
type fakeService struct {
	mu        sync.Mutex
	kind      models.EntityKind
	runs      [][]fakePage
	runIdx    int
	started   bool
	byID      map[string]*remote.RemoteEntity
	updates   []fakeUpdate
	getErr    map[string]error
	updateErr map[string]error
	clock     time.Time
	listCalls int
	getCalls  int
	onList    func(call int)
}

var _ remote.Service = (*fakeService)(nil)

func newFakeService(kind models.EntityKind) *fakeService {
	return &fakeService{
		kind:      kind,
		byID:      map[string]*remote.RemoteEntity{},
		getErr:    map[string]error{},
		updateErr: map[string]error{},
		clock:     t0.Add(time.Hour),
	}
}

func (f *fakeService) Kind() models.EntityKind { return f.kind }

func (f *fakeService) addRun(pages ...fakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pages {
		for i := range p.entities {
			re := p.entities[i]
			f.byID[re.ID] = &re
		}
	}
	f.runs = append(f.runs, pages)
}

func (f *fakeService) seed(entities ...remote.RemoteEntity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range entities {
		re := entities[i]
		f.byID[re.ID] = &re
	}
}

func (f *fakeService) ListUpdatedSince(ctx context.Context, since time.Time, pageToken string, limit int) (*remote.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.onList != nil {
		f.onList(f.listCalls)
	}
	if pageToken == "" && f.started && f.runIdx < len(f.runs)-1 {
		f.runIdx++
	}
	f.started = true
	if len(f.runs) == 0 {
		return &remote.ListPage{}, nil
	}
	run := f.runs[f.runIdx]
	idx := 0
	if pageToken != "" {
		idx, _ = strconv.Atoi(pageToken)
	}
	if idx >= len(run) {
		return &remote.ListPage{}, nil
	}
	page := run[idx]
	if page.err != nil {
		return nil, page.err
	}
	out := &remote.ListPage{Entities: page.entities}
	if idx+1 < len(run) {
		out.NextToken = strconv.Itoa(idx + 1)
	}
	return out, nil
}

func (f *fakeService) Get(ctx context.Context, id string) (*remote.RemoteEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	re, ok := f.byID[id]
	if !ok {
		return nil, &remote.RemoteError{Service: string(f.kind), StatusCode: 404, Category: remote.CategoryValidation, Body: "not found"}
	}
	cp := *re
	cp.Fields = cloneFields(re.Fields)
	return &cp, nil
}

func (f *fakeService) UpdateFields(ctx context.Context, id string, fields models.FieldValues, version int) (*remote.RemoteEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[id]; err != nil {
		return nil, err
	}
	re, ok := f.byID[id]
	if !ok {
		return nil, &remote.RemoteError{Service: string(f.kind), StatusCode: 404, Category: remote.CategoryValidation, Body: "not found"}
	}
	f.updates = append(f.updates, fakeUpdate{ID: id, Fields: cloneFields(fields), Version: version})
	for k, v := range fields {
		re.Fields[k] = v
	}
	f.clock = f.clock.Add(time.Second)
	re.UpdatedAt = f.clock
	if re.Version > 0 {
		re.Version++
	}
	cp := *re
	cp.Fields = cloneFields(re.Fields)
	return &cp, nil
}

func (f *fakeService) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func cloneFields(in models.FieldValues) models.FieldValues {
	out := models.FieldValues{}
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fakeArchiver collects the batches the audit pruner hands over.
type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]models.SyncLogEntry
	err     error
}

func (a *fakeArchiver) Archive(ctx context.Context, entries []models.SyncLogEntry) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, entries)
	return fmt.Sprintf("sync_logs/batch-%d.json", len(a.batches)), nil
}
