// internal/transport/http/mock_test.go
package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"workspace-sync-service/internal/ops"
	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	syncengine "workspace-sync-service/internal/sync"
	"workspace-sync-service/pkg/models"
)

var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

// mockIssue is one issue living on the fake tracker. Each carries its own
// modification stamp so watermark advancement is observable.
type mockIssue struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Priority    string
	Assignee    string
	Labels      []string
	Updated     time.Time
}

// trackerMock fakes the tracker's search, fetch and update endpoints behind
// one HTTP server. The clock advances one second per change so modification
// times stay ordered.
type trackerMock struct {
	mu     sync.Mutex
	clock  time.Time
	issues []*mockIssue
	puts   int
}

func newTrackerMock() *trackerMock {
	return &trackerMock{clock: t0}
}

// tick advances the clock; callers hold mu.
func (m *trackerMock) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// find returns the live issue; callers hold mu.
func (m *trackerMock) find(key string) *mockIssue {
	for _, is := range m.issues {
		if is.Key == key {
			return is
		}
	}
	return nil
}

func (m *trackerMock) add(key, summary, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = append(m.issues, &mockIssue{
		Key:         key,
		Summary:     summary,
		Description: "body of " + key,
		Status:      status,
		Priority:    "Medium",
		Labels:      []string{"backend"},
		Updated:     m.tick(),
	})
}

// editRemote mutates an issue the way another tracker user would, bumping its
// modification stamp.
func (m *trackerMock) editRemote(key string, edit func(*mockIssue)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if is := m.find(key); is != nil {
		edit(is)
		is.Updated = m.tick()
	}
}

func (m *trackerMock) issue(key string) mockIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	is := *m.find(key)
	is.Labels = append([]string(nil), is.Labels...)
	return is
}

// putCount reports how many field-update PUTs the mock has served.
func (m *trackerMock) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// issuePayload renders the tracker's issue document; callers hold mu.
func issuePayload(is *mockIssue) map[string]any {
	labels := is.Labels
	if labels == nil {
		labels = []string{}
	}
	return map[string]any{
		"key": is.Key,
		"fields": map[string]any{
			"summary":     is.Summary,
			"description": is.Description,
			"status":      map[string]any{"name": is.Status},
			"priority":    map[string]any{"name": is.Priority},
			"assignee":    map[string]any{"accountId": is.Assignee},
			"labels":      labels,
			"project":     map[string]any{"key": "PROJ"},
			"updated":     is.Updated.Format("2006-01-02T15:04:05.000-0700"),
		},
	}
}

func (m *trackerMock) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		payloads := make([]map[string]any, 0, len(m.issues))
		for _, is := range m.issues {
			payloads = append(payloads, issuePayload(is))
		}
		writeJSON(w, http.StatusOK, map[string]any{"issues": payloads})
	})

	mux.HandleFunc("GET /rest/api/3/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		is := m.find(r.PathValue("key"))
		if is == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "issue not found"})
			return
		}
		writeJSON(w, http.StatusOK, issuePayload(is))
	})

	mux.HandleFunc("PUT /rest/api/3/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields map[string]json.RawMessage `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		m.mu.Lock()
		defer m.mu.Unlock()
		is := m.find(r.PathValue("key"))
		if is == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "issue not found"})
			return
		}
		for name, raw := range body.Fields {
			switch name {
			case "summary":
				_ = json.Unmarshal(raw, &is.Summary)
			case "description":
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					is.Description = s
				} else {
					is.Description = string(raw)
				}
			case "priority":
				var v struct {
					Name string `json:"name"`
				}
				_ = json.Unmarshal(raw, &v)
				is.Priority = v.Name
			case "assignee":
				var v struct {
					AccountID string `json:"accountId"`
				}
				_ = json.Unmarshal(raw, &v)
				is.Assignee = v.AccountID
			case "labels":
				var ls []string
				_ = json.Unmarshal(raw, &ls)
				is.Labels = ls
			}
		}
		is.Updated = m.tick()
		m.puts++
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpEnv is the full service wired over the fake tracker: real client, real
// engine and executor, real handlers on the route table main registers.
type httpEnv struct {
	app   *fiber.App
	store *store.Store
	mock  *trackerMock
	srv   *httptest.Server
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	m := newTrackerMock()
	srv := m.server(t)

	tracker := remote.NewTrackerClient(remote.Config{
		Service:    "tracker",
		BaseURL:    srv.URL,
		Email:      "sync@example.test",
		APIToken:   "token",
		MaxRetries: 1,
		Timeout:    5 * time.Second,
	}, "PROJ")

	st := newTestStore(t)
	locks := store.NewEntityLocks()
	services := map[models.EntityKind]remote.Service{models.KindIssue: tracker}
	engine := syncengine.NewEngine(st, locks, services, syncengine.EngineConfig{PageSize: 50}, nil)
	executor := ops.NewExecutor(st, locks, ops.NewRegistry(tracker, nil))

	return &httpEnv{
		app:   newTestApp(NewHandler(st, engine, executor)),
		store: st,
		mock:  m,
		srv:   srv,
	}
}

// newTestApp registers the service route table without the auth middleware.
func newTestApp(h *Handler) *fiber.App {
	app := fiber.New()
	api := app.Group("/svc/v1")

	api.Post("/sync", h.TriggerSync)
	api.Get("/sync/status", h.SyncStatus)

	api.Get("/entities/:kind", h.ListEntities)
	api.Get("/entities/:kind/:id", h.GetEntity)
	api.Patch("/entities/:kind/:id", h.PatchEntity)
	api.Get("/entities/:kind/:id/history", h.EntityHistory)

	api.Get("/conflicts", h.ListConflicts)
	api.Get("/conflicts/:id", h.GetConflict)
	api.Post("/conflicts/:id/resolve", h.ResolveConflict)

	api.Post("/operations", h.CreateOperation)
	api.Get("/operations", h.ListOperations)
	api.Get("/operations/:id", h.GetOperation)
	api.Post("/operations/:id/approve", h.ApproveOperation)
	api.Post("/operations/:id/cancel", h.CancelOperation)
	api.Post("/operations/:id/execute", h.ExecuteOperation)
	api.Get("/operations/:id/history", h.OperationHistory)
	api.Post("/history/:id/rollback", h.RollbackHistory)

	api.Get("/logs", h.QueryLogs)
	return app
}

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

// request sends a JSON request through the in-process app and decodes the
// JSON response body.
func (env *httpEnv) request(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return env.do(t, req)
}

// requestRaw sends a verbatim body, for malformed-JSON cases.
func (env *httpEnv) requestRaw(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return env.do(t, req)
}

func (env *httpEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "response body: %s", raw)
	}
	return resp.StatusCode, decoded
}

// syncNow triggers a batch pass and returns its result counters.
func (env *httpEnv) syncNow(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	var payload any
	if body != nil {
		payload = body
	}
	status, resp := env.request(t, http.MethodPost, "/svc/v1/sync", payload)
	require.Equal(t, http.StatusOK, status, "sync response: %v", resp)
	return asMap(t, resp["result"])
}

// seedIssues registers two issues on the mock tracker and pulls them in.
func (env *httpEnv) seedIssues(t *testing.T) {
	t.Helper()
	env.mock.add("PROJ-1", "Fix login", "To Do")
	env.mock.add("PROJ-2", "Update docs", "In Progress")
	res := env.syncNow(t, map[string]any{"mode": "pull-only"})
	require.Equal(t, float64(2), res["pulled"])
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok, "expected a JSON object, got %T", v)
	return m
}

func asList(t *testing.T, v any) []any {
	t.Helper()
	l, ok := v.([]any)
	require.True(t, ok, "expected a JSON array, got %T", v)
	return l
}
