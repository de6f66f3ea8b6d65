// internal/ops/mock_test.go
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	syncengine "workspace-sync-service/internal/sync"
	"workspace-sync-service/pkg/models"
)

var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

type mockIssue struct {
	Summary     string
	Description string
	Status      string
	Priority    string
	Assignee    string
	Labels      []string
}

type mockPage struct {
	Title    string
	Body     string
	ParentID string
	Labels   []string
	Version  int
}

type linkCall struct {
	Inward   string
	Outward  string
	LinkType string
}

// issueMoves is the transition table the mock tracker offers on every issue.
var issueMoves = []map[string]any{
	{"id": "21", "name": "Start Progress", "to": map[string]any{"name": "In Progress"}},
	{"id": "31", "name": "Stop Progress", "to": map[string]any{"name": "To Do"}},
	{"id": "41", "name": "Finish", "to": map[string]any{"name": "Done"}},
}

// mockRemote fakes both remote services behind one HTTP server: the tracker's
// issue endpoints and the wiki's content endpoints. A shared clock advances
// one second per write so remote modification times stay ordered, and the
// wiki PUT enforces the version+1 optimistic-concurrency rule for real.
type mockRemote struct {
	mu     sync.Mutex
	clock  time.Time
	issues map[string]*mockIssue
	pages  map[string]*mockPage
	links  []linkCall

	issuePuts int
	pagePuts  int
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		clock:  t0,
		issues: map[string]*mockIssue{},
		pages:  map[string]*mockPage{},
	}
}

func (m *mockRemote) issue(key string) mockIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	is := *m.issues[key]
	is.Labels = append([]string(nil), is.Labels...)
	return is
}

func (m *mockRemote) page(id string) mockPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *m.pages[id]
	p.Labels = append([]string(nil), p.Labels...)
	return p
}

func (m *mockRemote) removeIssue(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.issues, key)
}

func (m *mockRemote) linkCalls() []linkCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]linkCall(nil), m.links...)
}

// writes reports how many field-update PUTs each service has served.
func (m *mockRemote) writes() (issues, pages int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issuePuts, m.pagePuts
}

func (m *mockRemote) issuePayload(key string, is *mockIssue) map[string]any {
	labels := is.Labels
	if labels == nil {
		labels = []string{}
	}
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"summary":     is.Summary,
			"description": is.Description,
			"status":      map[string]any{"name": is.Status},
			"priority":    map[string]any{"name": is.Priority},
			"assignee":    map[string]any{"accountId": is.Assignee},
			"labels":      labels,
			"project":     map[string]any{"key": "PROJ"},
			"updated":     m.clock.Format("2006-01-02T15:04:05.000-0700"),
		},
	}
}

func (m *mockRemote) pagePayload(id string, p *mockPage) map[string]any {
	labels := make([]map[string]any, 0, len(p.Labels))
	for _, l := range p.Labels {
		labels = append(labels, map[string]any{"name": l})
	}
	payload := map[string]any{
		"id":     id,
		"type":   "page",
		"status": "current",
		"title":  p.Title,
		"space":  map[string]any{"key": "DOCS"},
		"body":   map[string]any{"storage": map[string]any{"value": p.Body}},
		"version": map[string]any{
			"number": p.Version,
			"when":   m.clock.Format(time.RFC3339),
		},
		"metadata": map[string]any{"labels": map[string]any{"results": labels}},
	}
	if p.ParentID != "" {
		payload["ancestors"] = []map[string]any{{"id": p.ParentID}}
	}
	return payload
}

func (m *mockRemote) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /rest/api/3/issue/{key}/transitions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"transitions": issueMoves})
	})

	mux.HandleFunc("POST /rest/api/3/issue/{key}/transitions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		m.mu.Lock()
		defer m.mu.Unlock()
		is, ok := m.issues[r.PathValue("key")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "issue not found"})
			return
		}
		for _, mv := range issueMoves {
			if mv["id"] == body.Transition.ID {
				is.Status = mv["to"].(map[string]any)["name"].(string)
				m.clock = m.clock.Add(time.Second)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "unknown transition"})
	})

	mux.HandleFunc("GET /rest/api/3/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		key := r.PathValue("key")
		is, ok := m.issues[key]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "issue not found"})
			return
		}
		writeJSON(w, http.StatusOK, m.issuePayload(key, is))
	})

	mux.HandleFunc("PUT /rest/api/3/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields map[string]json.RawMessage `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		m.mu.Lock()
		defer m.mu.Unlock()
		is, ok := m.issues[r.PathValue("key")]
		if !ok {
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
		m.issuePuts++
		m.clock = m.clock.Add(time.Second)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /rest/api/3/issueLink", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type struct {
				Name string `json:"name"`
			} `json:"type"`
			InwardIssue struct {
				Key string `json:"key"`
			} `json:"inwardIssue"`
			OutwardIssue struct {
				Key string `json:"key"`
			} `json:"outwardIssue"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.links = append(m.links, linkCall{
			Inward:   body.InwardIssue.Key,
			Outward:  body.OutwardIssue.Key,
			LinkType: body.Type.Name,
		})
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /wiki/rest/api/content/{id}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		id := r.PathValue("id")
		p, ok := m.pages[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "page not found"})
			return
		}
		writeJSON(w, http.StatusOK, m.pagePayload(id, p))
	})

	mux.HandleFunc("PUT /wiki/api/v2/pages/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title string `json:"title"`
			Body  struct {
				Value string `json:"value"`
			} `json:"body"`
			Version struct {
				Number int `json:"number"`
			} `json:"version"`
			ParentID string `json:"parentId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.pages[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "page not found"})
			return
		}
		if body.Version.Number != p.Version+1 {
			writeJSON(w, http.StatusConflict, map[string]any{"message": "version conflict"})
			return
		}
		p.Title = body.Title
		p.Body = body.Body.Value
		if body.ParentID != "" {
			p.ParentID = body.ParentID
		}
		p.Version = body.Version.Number
		m.pagePuts++
		m.clock = m.clock.Add(time.Second)
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id")})
	})

	mux.HandleFunc("POST /wiki/rest/api/content/{id}/label", func(w http.ResponseWriter, r *http.Request) {
		var body []struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.pages[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "page not found"})
			return
		}
		for _, l := range body {
			if !contains(p.Labels, l.Name) {
				p.Labels = append(p.Labels, l.Name)
			}
		}
		m.clock = m.clock.Add(time.Second)
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	mux.HandleFunc("DELETE /wiki/rest/api/content/{id}/label/{name}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.pages[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "page not found"})
			return
		}
		kept := p.Labels[:0]
		for _, l := range p.Labels {
			if l != r.PathValue("name") {
				kept = append(kept, l)
			}
		}
		p.Labels = kept
		m.clock = m.clock.Add(time.Second)
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

type opsEnv struct {
	store    *store.Store
	tracker  *remote.TrackerClient
	wiki     *remote.WikiClient
	executor *Executor
	mock     *mockRemote
}

func newOpsEnv(t *testing.T) *opsEnv {
	t.Helper()
	m := newMockRemote()
	srv := m.server(t)

	cfg := remote.Config{
		BaseURL:    srv.URL,
		Email:      "sync@example.test",
		APIToken:   "token",
		MaxRetries: 1,
		Timeout:    5 * time.Second,
	}
	trackerCfg := cfg
	trackerCfg.Service = "tracker"
	wikiCfg := cfg
	wikiCfg.Service = "wiki"

	tracker := remote.NewTrackerClient(trackerCfg, "PROJ")
	wiki := remote.NewWikiClient(wikiCfg, "DOCS")

	st := newTestStore(t)
	return &opsEnv{
		store:    st,
		tracker:  tracker,
		wiki:     wiki,
		executor: NewExecutor(st, store.NewEntityLocks(), NewRegistry(tracker, wiki)),
		mock:     m,
	}
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

// addIssue registers an issue with the mock tracker and mirrors it into the
// local store as a cleanly synced row, the way a pull pass would have.
func (env *opsEnv) addIssue(t *testing.T, key string, is mockIssue) {
	t.Helper()
	env.mock.mu.Lock()
	env.mock.issues[key] = &is
	env.mock.mu.Unlock()

	re, err := env.tracker.Get(context.Background(), key)
	require.NoError(t, err)
	e := &models.SyncedEntity{Kind: re.Kind, RemoteID: re.ID}
	syncengine.ApplyRemote(e, *re, nil)
	require.NoError(t, env.store.InsertRemote(context.Background(), e))
}

func (env *opsEnv) addPage(t *testing.T, id string, p mockPage) {
	t.Helper()
	env.mock.mu.Lock()
	env.mock.pages[id] = &p
	env.mock.mu.Unlock()

	re, err := env.wiki.Get(context.Background(), id)
	require.NoError(t, err)
	e := &models.SyncedEntity{Kind: re.Kind, RemoteID: re.ID}
	syncengine.ApplyRemote(e, *re, nil)
	require.NoError(t, env.store.InsertRemote(context.Background(), e))
}
